package app

import (
	"math"
	"strings"

	"quiz-session-engine/internal/domain"
)

// ScoringConfig holds the point-formula tuning constants. These are product
// numbers, not invariants; deployments may override them via configuration.
type ScoringConfig struct {
	BasePoints      int     // full value of a correct instant answer
	SpeedFloor      float64 // fraction awarded when the timer has just run out of band
	LateFloor       float64 // fraction awarded for a correct answer after time is up
	OpinionFraction float64 // fixed fraction for opinion responses
}

// DefaultScoring matches the shipped tuning: 100 base, 50-100% speed band,
// 30% late floor, 50% for opinions.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{BasePoints: 100, SpeedFloor: 0.5, LateFloor: 0.3, OpinionFraction: 0.5}
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	d := DefaultScoring()
	if c.BasePoints <= 0 {
		c.BasePoints = d.BasePoints
	}
	if c.SpeedFloor <= 0 {
		c.SpeedFloor = d.SpeedFloor
	}
	if c.LateFloor <= 0 {
		c.LateFloor = d.LateFloor
	}
	if c.OpinionFraction <= 0 {
		c.OpinionFraction = d.OpinionFraction
	}
	return c
}

// Scorer is the single authoritative correctness/point computation. It is
// pure; clients may mirror it for instant feedback but only this result is
// ever persisted.
type Scorer struct {
	cfg ScoringConfig
}

func NewScorer(cfg ScoringConfig) Scorer {
	return Scorer{cfg: cfg.withDefaults()}
}

// Validate computes correctness and points for a submission whose OptionIndex
// is already mapped back to the original index space. An index of -1 (the
// timeout marker) is always incorrect for multiple choice.
func (s Scorer) Validate(question domain.Question, submitted domain.AnswerPayload, timeRemaining, timeLimit float64) (bool, int) {
	switch q := question.(type) {
	case domain.MultipleChoice:
		correct := submitted.OptionIndex >= 0 && submitted.OptionIndex == q.CorrectOption
		if !correct {
			return false, 0
		}
		return true, s.timedPoints(timeRemaining, timeLimit)
	case domain.ShortAnswer:
		if !matchesShortAnswer(q, submitted.Text) {
			return false, 0
		}
		return true, s.timedPoints(timeRemaining, timeLimit)
	case domain.Opinion:
		// No wrong answers; timing does not apply.
		return true, int(math.Floor(float64(s.cfg.BasePoints) * s.cfg.OpinionFraction))
	}
	return false, 0
}

// timedPoints rewards speed without zeroing out late-but-correct answers:
// linear from SpeedFloor to 100% of base over remaining/limit, with LateFloor
// as the worst case. Monotonic non-decreasing in timeRemaining.
func (s Scorer) timedPoints(timeRemaining, timeLimit float64) int {
	base := float64(s.cfg.BasePoints)
	late := int(math.Floor(base * s.cfg.LateFloor))
	if timeRemaining <= 0 || timeLimit <= 0 {
		return late
	}
	ratio := timeRemaining / timeLimit
	if ratio > 1 {
		ratio = 1
	}
	points := int(math.Floor(base * (s.cfg.SpeedFloor + (1-s.cfg.SpeedFloor)*ratio)))
	if points < late {
		return late
	}
	return points
}

func matchesShortAnswer(q domain.ShortAnswer, text string) bool {
	submitted := normalizeAnswer(text)
	if submitted == "" {
		return false
	}
	candidates := append([]string{q.CorrectAnswer}, q.AdditionalAnswers...)
	for _, candidate := range candidates {
		want := normalizeAnswer(candidate)
		if want == "" {
			continue
		}
		if q.Match == domain.MatchContains {
			if strings.Contains(submitted, want) {
				return true
			}
		} else if submitted == want {
			return true
		}
	}
	return false
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidatePayload rejects malformed submissions before any scoring happens.
// Timeout submissions are always structurally valid.
func ValidatePayload(question domain.Question, payload domain.AnswerPayload) error {
	if payload.TimedOut {
		return nil
	}
	switch q := question.(type) {
	case domain.MultipleChoice:
		if payload.OptionIndex < 0 || payload.OptionIndex >= len(q.Options) {
			return domain.ErrInvalidAnswerPayload
		}
	case domain.ShortAnswer:
		if strings.TrimSpace(payload.Text) == "" {
			return domain.ErrInvalidAnswerPayload
		}
	case domain.Opinion:
		if strings.TrimSpace(payload.Text) == "" {
			return domain.ErrInvalidAnswerPayload
		}
	}
	return nil
}
