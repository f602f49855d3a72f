package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-engine/internal/domain"
)

func TestRecordRejectsSecondAnswerForSameQuestion(t *testing.T) {
	p := newProgress()

	require.NoError(t, p.record(domain.Answer{QuestionIndex: 0, Correct: true, Points: 100}))
	err := p.record(domain.Answer{QuestionIndex: 0, Correct: false})
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	assert.Len(t, p.answers, 1)
	assert.Equal(t, 100, p.score)
	assert.True(t, p.answers[0].Correct, "first answer must survive the rejected duplicate")
}

func TestUnrecordRollsBackScoreAndAnswer(t *testing.T) {
	p := newProgress()
	require.NoError(t, p.record(domain.Answer{QuestionIndex: 2, Correct: true, Points: 70}))

	p.unrecord(2)
	assert.Empty(t, p.answers)
	assert.Zero(t, p.score)

	p.unrecord(2) // no-op on missing answer
	assert.Zero(t, p.score)
}

func TestResetArchivesAttemptAndClearsLiveState(t *testing.T) {
	p := newProgress()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.record(domain.Answer{QuestionIndex: 0, Correct: true, Points: 100, AnsweredAt: now.UnixMilli()}))
	require.NoError(t, p.record(domain.Answer{QuestionIndex: 1, Correct: false, Points: 0}))

	before := p.answersCopy()
	beforeScore := p.score

	attempt, archived := p.reset(now)
	require.True(t, archived)
	assert.Equal(t, before, attempt.Answers)
	assert.Equal(t, beforeScore, attempt.Score)
	assert.Equal(t, now.UnixMilli(), attempt.CompletedAt)

	assert.Empty(t, p.answers)
	assert.Zero(t, p.score)
	assert.Len(t, p.attempts, 1)
}

func TestResetWithNoAnswersIsIdempotent(t *testing.T) {
	p := newProgress()
	now := time.Now()

	_, archived := p.reset(now)
	assert.False(t, archived)
	_, archived = p.reset(now)
	assert.False(t, archived)

	assert.Empty(t, p.attempts)
	assert.Zero(t, p.score)
}

func TestArchivedAttemptIsIsolatedFromLaterWrites(t *testing.T) {
	p := newProgress()
	now := time.Now()
	require.NoError(t, p.record(domain.Answer{QuestionIndex: 0, Correct: true, Points: 50}))

	attempt, archived := p.reset(now)
	require.True(t, archived)

	require.NoError(t, p.record(domain.Answer{QuestionIndex: 0, Correct: false, Points: 0}))
	assert.True(t, attempt.Answers[0].Correct, "archive must not alias the live map")
	assert.Equal(t, 50, attempt.Score)
}
