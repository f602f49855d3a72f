package app

import (
	"sync"
	"time"

	"quiz-session-engine/internal/domain"
)

// session is the in-memory runtime for one hosted quiz run. All state behind
// mu; the engine locks it for the duration of each externally-triggered event,
// so a participant record only ever has one logical writer at a time.
type session struct {
	mu           sync.Mutex
	data         domain.Session
	quiz         domain.Quiz
	now          func() time.Time
	ended        bool
	participants map[string]*participantState
}

// participantState tracks one identity's live run: progress, the question
// order drawn for the current attempt, per-question option shuffles, and the
// server-side countdown for the question currently presented.
type participantState struct {
	id          string
	displayName string
	joinedAt    time.Time
	active      bool
	progress    *progress
	attemptSeq  int // bumps on reset so stale timers can tell
	order       []int
	views       map[int]*optionView
	presented   map[int]time.Time
	timer       *time.Timer
}

// optionView is one drawn option shuffle, held for the lifetime of the
// question view so re-reads never reshuffle.
type optionView struct {
	options        []string
	origToShuffled []int
	shuffledToOrig []int
}

func newSessionRuntime(data domain.Session, quiz domain.Quiz, now func() time.Time) *session {
	return &session{
		data:         data,
		quiz:         quiz,
		now:          now,
		participants: make(map[string]*participantState),
	}
}

func (s *session) state(now time.Time) domain.SessionState {
	if s.ended {
		return domain.StateEnded
	}
	if !now.Before(s.data.ExpiresAt) {
		return domain.StateExpired
	}
	return domain.StateActive
}

// writable gates every mutation: stale sessions reject writes instead of
// silently no-op-ing.
func (s *session) writable(now time.Time) error {
	switch s.state(now) {
	case domain.StateEnded:
		return domain.ErrSessionEnded
	case domain.StateExpired:
		return domain.ErrSessionExpired
	}
	return nil
}

func (s *session) join(participantID, displayName string, order []int) (*participantState, bool) {
	if p, ok := s.participants[participantID]; ok {
		p.displayName = displayName
		p.active = true
		return p, false
	}
	p := &participantState{
		id:          participantID,
		displayName: displayName,
		joinedAt:    s.now(),
		active:      true,
		progress:    newProgress(),
		order:       order,
		views:       make(map[int]*optionView),
		presented:   make(map[int]time.Time),
	}
	s.participants[participantID] = p
	s.data.ParticipantCount = len(s.participants)
	return p, true
}

// currentIndex maps the host-advanced pointer through this participant's
// drawn order to an original question index.
func (s *session) currentIndex(p *participantState) int {
	return p.order[s.data.CurrentQuestion]
}

// present builds the view for the participant's current question, drawing the
// option shuffle and stamping the timing-window start exactly once per
// (attempt, question). Reconnects see the same shuffle and the same clock.
func (s *session) present(p *participantState, shuffler *Shuffler) domain.QuestionView {
	origIdx := s.currentIndex(p)
	question := s.quiz.Questions[origIdx]

	view := domain.QuestionView{
		QuestionIndex: origIdx,
		Position:      s.data.CurrentQuestion,
		Prompt:        question.Prompt(),
	}

	switch q := question.(type) {
	case domain.MultipleChoice:
		view.Type = "multipleChoice"
		ov, ok := p.views[origIdx]
		if !ok {
			shuffled, origToShuffled := shuffler.Options(q.Options)
			ov = &optionView{options: shuffled, origToShuffled: origToShuffled, shuffledToOrig: invert(origToShuffled)}
			p.views[origIdx] = ov
		}
		view.Options = ov.options
		view.TimeLimitSeconds = s.data.TimeLimitSeconds
	case domain.ShortAnswer:
		view.Type = "shortAnswer"
		view.TimeLimitSeconds = s.data.TimeLimitSeconds
	case domain.Opinion:
		view.Type = "opinion" // no timing window
	}

	presentedAt, ok := p.presented[origIdx]
	if !ok {
		presentedAt = s.now()
		p.presented[origIdx] = presentedAt
	}
	view.PresentedAt = presentedAt
	return view
}

func invert(origToShuffled []int) []int {
	inv := make([]int, len(origToShuffled))
	for orig, display := range origToShuffled {
		inv[display] = orig
	}
	return inv
}

// timeRemaining measures the participant-scoped countdown for a question.
func (s *session) timeRemaining(p *participantState, origIdx int) float64 {
	presentedAt, ok := p.presented[origIdx]
	if !ok {
		return float64(s.data.TimeLimitSeconds)
	}
	elapsed := s.now().Sub(presentedAt).Seconds()
	return float64(s.data.TimeLimitSeconds) - elapsed
}

// resetAttempt archives the participant's current attempt and redraws their
// question order for the next pass.
func (s *session) resetAttempt(p *participantState, shuffler *Shuffler) (domain.Attempt, bool) {
	attempt, archived := p.progress.reset(s.now())
	p.attemptSeq++
	p.order = shuffler.QuestionOrder(len(s.quiz.Questions), s.data.RandomizeQuestions)
	p.views = make(map[int]*optionView)
	p.presented = make(map[int]time.Time)
	return attempt, archived
}

func (s *session) stopTimer(p *participantState) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (s *session) stopAllTimers() {
	for _, p := range s.participants {
		s.stopTimer(p)
	}
}

func (s *session) exportParticipant(p *participantState) domain.Participant {
	return domain.Participant{
		ID:          p.id,
		SessionID:   s.data.ID,
		DisplayName: p.displayName,
		JoinedAt:    p.joinedAt,
		Active:      p.active,
		Score:       p.progress.score,
		Answers:     p.progress.answersCopy(),
		Attempts:    p.progress.attemptsCopy(),
	}
}

func (s *session) exportParticipants() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, s.exportParticipant(p))
	}
	return out
}

func (s *session) snapshot(bands []TierBand) domain.SessionSnapshot {
	now := s.now()
	return domain.SessionSnapshot{
		SessionID:        s.data.ID,
		Code:             s.data.Code,
		QuizID:           s.quiz.ID,
		QuizTitle:        s.quiz.Title,
		State:            s.state(now),
		CurrentQuestion:  s.data.CurrentQuestion,
		QuestionCount:    len(s.quiz.Questions),
		ParticipantCount: len(s.participants),
		Leaderboard:      Rank(s.exportParticipants(), bands),
		UpdatedAt:        now,
	}
}
