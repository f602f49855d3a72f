package app

import (
	"time"

	"quiz-session-engine/internal/domain"
)

// progress owns one participant's per-session state: current answers, running
// score, and archived prior attempts. It is the only mutation path for scores.
type progress struct {
	answers  map[int]domain.Answer
	score    int
	attempts []domain.Attempt
}

func newProgress() *progress {
	return &progress{answers: make(map[int]domain.Answer)}
}

func (p *progress) answered(questionIndex int) bool {
	_, ok := p.answers[questionIndex]
	return ok
}

// record stores an answer and applies its points. Resubmission for an
// already-answered question is rejected, never overwritten.
func (p *progress) record(a domain.Answer) error {
	if p.answered(a.QuestionIndex) {
		return domain.ErrAlreadyAnswered
	}
	p.answers[a.QuestionIndex] = a
	p.score += a.Points
	return nil
}

// unrecord rolls back a record that could not be persisted, keeping score and
// answers atomic with the durable write.
func (p *progress) unrecord(questionIndex int) {
	a, ok := p.answers[questionIndex]
	if !ok {
		return
	}
	delete(p.answers, questionIndex)
	p.score -= a.Points
}

// reset archives the current attempt and clears live state. With zero current
// answers nothing is archived, so repeated resets are no-ops.
func (p *progress) reset(now time.Time) (domain.Attempt, bool) {
	if len(p.answers) == 0 {
		p.score = 0
		return domain.Attempt{}, false
	}
	attempt := p.freeze(now)
	p.attempts = append(p.attempts, attempt)
	p.answers = make(map[int]domain.Answer)
	p.score = 0
	return attempt, true
}

// freeze copies the live attempt without clearing it.
func (p *progress) freeze(now time.Time) domain.Attempt {
	answers := make(map[int]domain.Answer, len(p.answers))
	for k, v := range p.answers {
		answers[k] = v
	}
	return domain.Attempt{Answers: answers, Score: p.score, CompletedAt: now.UnixMilli()}
}

func (p *progress) answersCopy() map[int]domain.Answer {
	out := make(map[int]domain.Answer, len(p.answers))
	for k, v := range p.answers {
		out[k] = v
	}
	return out
}

func (p *progress) attemptsCopy() []domain.Attempt {
	if len(p.attempts) == 0 {
		return nil
	}
	out := make([]domain.Attempt, len(p.attempts))
	copy(out, p.attempts)
	return out
}
