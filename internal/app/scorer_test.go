package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-session-engine/internal/domain"
)

func mcQuestion() domain.MultipleChoice {
	return domain.MultipleChoice{
		Text:          "Pick the third option",
		Options:       []string{"a", "b", "c", "d"},
		CorrectOption: 2,
	}
}

func TestMultipleChoiceInstantAnswerFullPoints(t *testing.T) {
	scorer := NewScorer(DefaultScoring())
	correct, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: 2}, 30, 30)
	require.True(t, correct)
	assert.Equal(t, 100, points)
}

func TestMultipleChoiceLateAnswerFloorPoints(t *testing.T) {
	scorer := NewScorer(DefaultScoring())
	correct, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: 2}, 0, 30)
	require.True(t, correct)
	assert.Equal(t, 30, points)
}

func TestMultipleChoiceWrongAnswerZeroPoints(t *testing.T) {
	scorer := NewScorer(DefaultScoring())
	correct, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: 0}, 30, 30)
	assert.False(t, correct)
	assert.Zero(t, points)
}

func TestMultipleChoiceTimeoutMarkerAlwaysIncorrect(t *testing.T) {
	scorer := NewScorer(DefaultScoring())
	correct, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: -1}, 30, 30)
	assert.False(t, correct)
	assert.Zero(t, points)
}

func TestScoringMonotonicInRemainingTime(t *testing.T) {
	scorer := NewScorer(DefaultScoring())
	prev := -1
	for remaining := 0.0; remaining <= 30.0; remaining += 0.25 {
		_, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: 2}, remaining, 30)
		require.GreaterOrEqual(t, points, prev, "points dropped at remaining=%f", remaining)
		prev = points
	}
	assert.Equal(t, 100, prev)
}

func TestShortAnswerContainsMatch(t *testing.T) {
	q := domain.ShortAnswer{
		Text:          "Capital of France?",
		CorrectAnswer: "Paris",
		Match:         domain.MatchContains,
	}
	scorer := NewScorer(DefaultScoring())

	correct, _ := scorer.Validate(q, domain.AnswerPayload{Text: "it's paris, I think"}, 10, 30)
	assert.True(t, correct)

	correct, _ = scorer.Validate(q, domain.AnswerPayload{Text: "london"}, 10, 30)
	assert.False(t, correct)
}

func TestShortAnswerExactMatchWithAdditionalAnswers(t *testing.T) {
	q := domain.ShortAnswer{
		Text:              "Largest planet?",
		CorrectAnswer:     "Jupiter",
		AdditionalAnswers: []string{"planet jupiter"},
		Match:             domain.MatchExact,
	}
	scorer := NewScorer(DefaultScoring())

	correct, _ := scorer.Validate(q, domain.AnswerPayload{Text: "  JUPITER "}, 10, 30)
	assert.True(t, correct)

	correct, _ = scorer.Validate(q, domain.AnswerPayload{Text: "Planet Jupiter"}, 10, 30)
	assert.True(t, correct)

	// Exact means no substring credit.
	correct, _ = scorer.Validate(q, domain.AnswerPayload{Text: "it is jupiter"}, 10, 30)
	assert.False(t, correct)
}

func TestOpinionAlwaysScoresFixedPoints(t *testing.T) {
	q := domain.Opinion{Text: "How was it?"}
	scorer := NewScorer(DefaultScoring())

	correct, points := scorer.Validate(q, domain.AnswerPayload{Text: "I liked it"}, 0, 30)
	require.True(t, correct)
	assert.Equal(t, 50, points)
}

func TestValidatePayloadRejectsEmptyResponses(t *testing.T) {
	assert.ErrorIs(t, ValidatePayload(domain.Opinion{Text: "?"}, domain.AnswerPayload{Text: "   "}), domain.ErrInvalidAnswerPayload)
	assert.ErrorIs(t, ValidatePayload(domain.ShortAnswer{CorrectAnswer: "x"}, domain.AnswerPayload{Text: ""}), domain.ErrInvalidAnswerPayload)
	assert.ErrorIs(t, ValidatePayload(mcQuestion(), domain.AnswerPayload{OptionIndex: 9}), domain.ErrInvalidAnswerPayload)
	assert.NoError(t, ValidatePayload(mcQuestion(), domain.AnswerPayload{OptionIndex: 1}))
	// Timeout markers are structurally valid for every type.
	assert.NoError(t, ValidatePayload(mcQuestion(), domain.AnswerPayload{OptionIndex: -1, TimedOut: true}))
}

func TestScoringConstantsAreTunable(t *testing.T) {
	scorer := NewScorer(ScoringConfig{BasePoints: 200, SpeedFloor: 0.5, LateFloor: 0.3, OpinionFraction: 0.5})
	correct, points := scorer.Validate(mcQuestion(), domain.AnswerPayload{OptionIndex: 2}, 30, 30)
	require.True(t, correct)
	assert.Equal(t, 200, points)
}
