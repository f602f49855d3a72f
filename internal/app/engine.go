package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-session-engine/internal/domain"
)

// Config tunes the engine. Zero values fall back to shipped defaults.
type Config struct {
	Logger           *zap.Logger
	Scoring          ScoringConfig
	Tiers            []TierBand
	AroundMeWindow   int
	DefaultTTL       time.Duration // session lifetime from creation
	DefaultTimeLimit int           // per-question seconds
	TimerGrace       time.Duration // slack before the server-side timeout fires
	EndedRetention   time.Duration // how long an ended session stays resolvable
	Clock            func() time.Time
	Shuffler         *Shuffler
	CodeSeed         int64 // non-zero for deterministic join codes in tests
	Archiver         HistoryArchiver
}

// Engine coordinates sessions: it validates liveness, routes submissions
// through the scorer into participant progress, and publishes snapshots
// through the substrate so every subscribed observer converges.
type Engine struct {
	substrate Substrate
	catalog   QuizCatalog
	archiver  HistoryArchiver
	log       *zap.Logger
	clock     func() time.Time
	shuffler  *Shuffler
	codes     *codeGenerator
	scorer    Scorer
	tiers     []TierBand
	window    int
	ttl       time.Duration
	timeLimit int
	grace     time.Duration
	retention time.Duration

	mu         sync.RWMutex
	sessions   map[string]*session
	byCode     map[string]string
	byHostQuiz map[string]string
}

func NewEngine(substrate Substrate, catalog QuizCatalog, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Shuffler == nil {
		cfg.Shuffler = NewShuffler()
	}
	if cfg.AroundMeWindow <= 0 {
		cfg.AroundMeWindow = 5
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Minute
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = 30
	}
	if cfg.TimerGrace <= 0 {
		cfg.TimerGrace = time.Second
	}
	if cfg.EndedRetention <= 0 {
		cfg.EndedRetention = time.Minute
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	codes := newCodeGenerator()
	if cfg.CodeSeed != 0 {
		codes = newSeededCodeGenerator(cfg.CodeSeed)
	}
	return &Engine{
		substrate:  substrate,
		catalog:    catalog,
		archiver:   cfg.Archiver,
		log:        cfg.Logger,
		clock:      cfg.Clock,
		shuffler:   cfg.Shuffler,
		codes:      codes,
		scorer:     NewScorer(cfg.Scoring),
		tiers:      cfg.Tiers,
		window:     cfg.AroundMeWindow,
		ttl:        cfg.DefaultTTL,
		timeLimit:  cfg.DefaultTimeLimit,
		grace:      cfg.TimerGrace,
		retention:  cfg.EndedRetention,
		sessions:   make(map[string]*session),
		byCode:     make(map[string]string),
		byHostQuiz: make(map[string]string),
	}
}

// StartSession creates a live session for a quiz. If the host already runs a
// live session for the same quiz, the existing session is returned with
// ErrSessionAlreadyActive so callers can join it instead of duplicating.
func (e *Engine) StartSession(ctx context.Context, hostID, quizID string, settings domain.SessionSettings) (domain.Session, error) {
	quiz, err := e.catalog.GetQuizByID(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.Session{}, fmt.Errorf("quiz %s: %w", quizID, err)
	}

	now := e.clock()
	hostKey := hostID + "|" + quizID

	e.mu.Lock()
	defer e.mu.Unlock()

	if sid, ok := e.byHostQuiz[hostKey]; ok {
		if existing, ok := e.sessions[sid]; ok {
			existing.mu.Lock()
			live := existing.state(now) == domain.StateActive
			data := existing.data
			existing.mu.Unlock()
			if live {
				return data, domain.ErrSessionAlreadyActive
			}
			// Dead runtime being replaced; drop it and its code mapping.
			delete(e.byCode, data.Code)
			delete(e.sessions, sid)
		}
		delete(e.byHostQuiz, hostKey)
	}

	code, err := e.reserveCodeLocked(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	ttl := settings.TTL
	if ttl <= 0 {
		ttl = e.ttl
	}
	limit := settings.TimeLimitSeconds
	if limit <= 0 {
		limit = e.timeLimit
	}

	data := domain.Session{
		ID:                 uuid.NewString(),
		Code:               code,
		QuizID:             quizID,
		HostID:             hostID,
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
		TimeLimitSeconds:   limit,
		RandomizeQuestions: settings.RandomizeQuestions,
		SingleAttempt:      settings.SingleAttempt,
	}

	if err := e.setJSON(ctx, sessionKey(data.ID), data); err != nil {
		return domain.Session{}, err
	}
	if err := e.setJSON(ctx, codeKey(code), map[string]string{"sessionId": data.ID}); err != nil {
		_ = e.substrate.Delete(ctx, sessionKey(data.ID))
		return domain.Session{}, err
	}

	s := newSessionRuntime(data, quiz, e.clock)
	e.sessions[data.ID] = s
	e.byCode[code] = data.ID
	e.byHostQuiz[hostKey] = data.ID

	e.publish(ctx, s)
	e.log.Info("session started",
		zap.String("sessionId", data.ID),
		zap.String("quizId", quizID),
		zap.String("code", code))
	return data, nil
}

// Join registers an identity in the session behind a join code and presents
// the current question.
func (e *Engine) Join(ctx context.Context, code, participantID, displayName string) (domain.Session, domain.QuestionView, error) {
	s, err := e.sessionByCode(code)
	if err != nil {
		return domain.Session{}, domain.QuestionView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(e.clock()); err != nil {
		return domain.Session{}, domain.QuestionView{}, err
	}

	order := e.shuffler.QuestionOrder(len(s.quiz.Questions), s.data.RandomizeQuestions)
	p, created := s.join(participantID, displayName, order)
	view := s.present(p, e.shuffler)

	if err := e.persistParticipant(ctx, s, p); err != nil {
		if created {
			delete(s.participants, participantID)
			s.data.ParticipantCount = len(s.participants)
		}
		return domain.Session{}, domain.QuestionView{}, err
	}
	if created {
		if _, err := e.substrate.Update(ctx, sessionKey(s.data.ID), map[string]any{"participantCount": s.data.ParticipantCount}); err != nil {
			e.log.Warn("participant count update failed", zap.String("sessionId", s.data.ID), zap.Error(err))
		}
	}

	e.startTimer(s, p, view.QuestionIndex)
	e.publish(ctx, s)
	return s.data, view, nil
}

// SubmitAnswer validates, scores, and records a submission for the
// participant's current question. OptionIndex arrives in display space and is
// mapped back to the original order before scoring.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, participantID string, payload domain.AnswerPayload) (domain.Answer, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.recordLocked(ctx, s, participantID, payload)
}

// TimeExpireCurrentQuestion records the timeout marker for the participant's
// current question. A manual answer that already landed wins: the duplicate
// collapses into a no-op rather than an error, since it is a race, not a bug.
func (e *Engine) TimeExpireCurrentQuestion(ctx context.Context, sessionID, participantID string) error {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(e.clock()); err != nil {
		return err
	}
	p, ok := s.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	origIdx := s.currentIndex(p)
	if _, isOpinion := s.quiz.Questions[origIdx].(domain.Opinion); isOpinion {
		// Opinions have no timing window; there is nothing to expire.
		return nil
	}
	payload := domain.AnswerPayload{
		QuestionIndex: origIdx,
		OptionIndex:   -1,
		TimedOut:      true,
	}
	_, err = e.recordLocked(ctx, s, participantID, payload)
	if errors.Is(err, domain.ErrAlreadyAnswered) {
		return nil
	}
	return err
}

// recordLocked is the single guarded record path shared by manual submission
// and both timeout paths. Caller holds s.mu.
func (e *Engine) recordLocked(ctx context.Context, s *session, participantID string, payload domain.AnswerPayload) (domain.Answer, error) {
	now := e.clock()
	if err := s.writable(now); err != nil {
		return domain.Answer{}, err
	}
	p, ok := s.participants[participantID]
	if !ok {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}

	origIdx := s.currentIndex(p)
	if payload.QuestionIndex != origIdx {
		if p.progress.answered(payload.QuestionIndex) {
			return domain.Answer{}, domain.ErrAlreadyAnswered
		}
		return domain.Answer{}, domain.ErrInvalidAnswerPayload
	}
	if p.progress.answered(origIdx) {
		return domain.Answer{}, domain.ErrAlreadyAnswered
	}

	question := s.quiz.Questions[origIdx]
	if err := ValidatePayload(question, payload); err != nil {
		return domain.Answer{}, err
	}

	// Map the displayed option back into the original index space.
	originalOption := -1
	if _, isMC := question.(domain.MultipleChoice); isMC && !payload.TimedOut {
		if ov, ok := p.views[origIdx]; ok {
			originalOption = ov.shuffledToOrig[payload.OptionIndex]
		} else {
			originalOption = payload.OptionIndex
		}
	}

	remaining := s.timeRemaining(p, origIdx)
	if payload.TimedOut {
		remaining = 0
	}
	correct, points := e.scorer.Validate(question, domain.AnswerPayload{
		QuestionIndex: origIdx,
		OptionIndex:   originalOption,
		Text:          payload.Text,
	}, remaining, float64(s.data.TimeLimitSeconds))

	answer := domain.Answer{
		QuestionIndex: origIdx,
		OptionIndex:   originalOption,
		Text:          payload.Text,
		Correct:       correct,
		Points:        points,
		AnsweredAt:    now.UnixMilli(),
	}
	if err := p.progress.record(answer); err != nil {
		return domain.Answer{}, err
	}
	if err := e.persistParticipant(ctx, s, p); err != nil {
		p.progress.unrecord(origIdx)
		return domain.Answer{}, err
	}

	s.stopTimer(p)
	e.publish(ctx, s)
	return answer, nil
}

// AdvanceQuestion moves the host-authoritative pointer forward and presents
// the next question to every active participant. The previous answer is
// already durable before any next-question timer starts.
func (e *Engine) AdvanceQuestion(ctx context.Context, sessionID, hostID string) (int, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(e.clock()); err != nil {
		return 0, err
	}
	if s.data.HostID != hostID {
		return 0, domain.ErrNotSessionHost
	}
	if s.data.CurrentQuestion+1 >= len(s.quiz.Questions) {
		return s.data.CurrentQuestion, domain.ErrNoMoreQuestions
	}

	s.data.CurrentQuestion++
	if _, err := e.substrate.Update(ctx, sessionKey(s.data.ID), map[string]any{"currentQuestion": s.data.CurrentQuestion}); err != nil {
		s.data.CurrentQuestion--
		return s.data.CurrentQuestion, fmt.Errorf("advance question: %w", err)
	}

	for _, p := range s.participants {
		if !p.active {
			continue
		}
		s.stopTimer(p)
		view := s.present(p, e.shuffler)
		e.startTimer(s, p, view.QuestionIndex)
	}

	e.publish(ctx, s)
	return s.data.CurrentQuestion, nil
}

// ResetAttempt archives the participant's current attempt and starts a fresh
// one with a newly drawn question order. Forbidden in single-attempt sessions.
func (e *Engine) ResetAttempt(ctx context.Context, sessionID, participantID string) (domain.QuestionView, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(e.clock()); err != nil {
		return domain.QuestionView{}, err
	}
	if s.data.SingleAttempt {
		return domain.QuestionView{}, domain.ErrRetryForbidden
	}
	p, ok := s.participants[participantID]
	if !ok {
		return domain.QuestionView{}, domain.ErrParticipantNotFound
	}

	s.stopTimer(p)
	s.resetAttempt(p, e.shuffler)
	view := s.present(p, e.shuffler)

	if err := e.persistParticipant(ctx, s, p); err != nil {
		return domain.QuestionView{}, err
	}

	e.startTimer(s, p, view.QuestionIndex)
	e.publish(ctx, s)
	return view, nil
}

// EndSession is the irreversible terminal transition: archive every
// participant's history, then delete session and participant records.
func (e *Engine) EndSession(ctx context.Context, sessionID, hostID string) error {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return err
	}
	code, hostKey, participants, err := e.closeSession(ctx, s, hostID)
	if err != nil {
		return err
	}

	// Index cleanup must not run under s.mu: StartSession acquires e.mu
	// before session locks, so the reverse order here would invert it. The
	// guards keep a concurrent replacement session's entries intact.
	e.mu.Lock()
	if e.byCode[code] == sessionID {
		delete(e.byCode, code)
	}
	if e.byHostQuiz[hostKey] == sessionID {
		delete(e.byHostQuiz, hostKey)
	}
	e.mu.Unlock()
	e.scheduleReap(sessionID)

	e.log.Info("session ended", zap.String("sessionId", sessionID), zap.Int("participants", participants))
	return nil
}

// closeSession runs the terminal transition under the session lock and
// reports the index entries the caller has to clean up.
func (e *Engine) closeSession(ctx context.Context, s *session, hostID string) (code, hostKey string, participants int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return "", "", 0, domain.ErrSessionEnded
	}
	if s.data.HostID != hostID {
		return "", "", 0, domain.ErrNotSessionHost
	}

	s.ended = true
	s.stopAllTimers()

	now := e.clock()
	ranked := Rank(s.exportParticipants(), e.tiers)
	rankByID := make(map[string]int, len(ranked))
	for _, entry := range ranked {
		rankByID[entry.ParticipantID] = entry.Rank
	}

	for _, p := range s.participants {
		attempts := p.progress.attemptsCopy()
		if len(p.progress.answers) > 0 {
			attempts = append(attempts, p.progress.freeze(now))
		}
		history := domain.ParticipantHistory{
			SessionID:     s.data.ID,
			QuizID:        s.quiz.ID,
			ParticipantID: p.id,
			DisplayName:   p.displayName,
			Attempts:      attempts,
			FinalScore:    p.progress.score,
			FinalRank:     rankByID[p.id],
			ArchivedAt:    now,
		}
		if err := e.setJSON(ctx, historyKey(p.id, s.data.ID), history); err != nil {
			e.log.Error("history archive failed",
				zap.String("sessionId", s.data.ID),
				zap.String("participantId", p.id),
				zap.Error(err))
			continue
		}
		if e.archiver != nil {
			if err := e.archiver.ArchiveHistory(ctx, history); err != nil {
				e.log.Warn("long-term archive failed",
					zap.String("sessionId", s.data.ID),
					zap.String("participantId", p.id),
					zap.Error(err))
			}
		}
		if err := e.substrate.Delete(ctx, participantKey(s.data.ID, p.id)); err != nil {
			e.log.Warn("participant record delete failed", zap.String("participantId", p.id), zap.Error(err))
		}
	}

	// Terminal snapshot first so observers see "ended", then drop the records.
	e.publish(ctx, s)
	if err := e.substrate.Delete(ctx, codeKey(s.data.Code)); err != nil {
		e.log.Warn("code record delete failed", zap.String("code", s.data.Code), zap.Error(err))
	}
	if err := e.substrate.Delete(ctx, sessionKey(s.data.ID)); err != nil {
		e.log.Warn("session record delete failed", zap.String("sessionId", s.data.ID), zap.Error(err))
	}

	return s.data.Code, s.data.HostID + "|" + s.data.QuizID, len(s.participants), nil
}

// scheduleReap drops the ended runtime once observers have had time to read
// the terminal snapshot; later lookups see ErrSessionNotFound.
func (e *Engine) scheduleReap(sessionID string) {
	time.AfterFunc(e.retention, func() {
		e.mu.Lock()
		delete(e.sessions, sessionID)
		e.mu.Unlock()
	})
}

// GetSnapshot returns the authoritative current state, including the terminal
// "ended" view after EndSession.
func (e *Engine) GetSnapshot(ctx context.Context, sessionID string) (domain.SessionSnapshot, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(e.tiers), nil
}

// CurrentQuestion re-presents the participant's current question without
// redrawing shuffles, for reconnecting clients.
func (e *Engine) CurrentQuestion(ctx context.Context, sessionID, participantID string) (domain.QuestionView, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.QuestionView{}, domain.ErrParticipantNotFound
	}
	return s.present(p, e.shuffler), nil
}

// AroundMe returns the leaderboard window centered on the caller.
func (e *Engine) AroundMe(ctx context.Context, sessionID, participantID string) ([]domain.RankedEntry, error) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	ranked := Rank(s.exportParticipants(), e.tiers)
	s.mu.Unlock()

	window := AroundMe(ranked, participantID, e.window)
	if window == nil {
		return nil, domain.ErrParticipantNotFound
	}
	return window, nil
}

// WatchSession subscribes an observer to the session's published snapshots.
func (e *Engine) WatchSession(sessionID string, fn func(Record)) (func(), error) {
	if _, err := e.sessionByID(sessionID); err != nil {
		return nil, err
	}
	return e.substrate.Subscribe(snapshotKey(sessionID), fn)
}

func (e *Engine) sessionByID(sessionID string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) sessionByCode(code string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sid, ok := e.byCode[code]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s, ok := e.sessions[sid]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// reserveCodeLocked draws join codes until one is free both locally and in
// the substrate's live-code records. Caller holds e.mu.
func (e *Engine) reserveCodeLocked(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		code := e.codes.Next()
		if _, taken := e.byCode[code]; taken {
			continue
		}
		_, err := e.substrate.Get(ctx, codeKey(code))
		if errors.Is(err, domain.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("code collision check: %w", err)
		}
	}
	return "", fmt.Errorf("could not reserve a join code")
}

// startTimer arms the server-authoritative countdown for the participant's
// presented question. Opinion questions carry no timing window. Caller holds
// s.mu.
func (e *Engine) startTimer(s *session, p *participantState, origIdx int) {
	if _, isOpinion := s.quiz.Questions[origIdx].(domain.Opinion); isOpinion {
		return
	}
	if p.progress.answered(origIdx) {
		return
	}
	s.stopTimer(p)

	remaining := time.Duration(s.timeRemaining(p, origIdx)*float64(time.Second)) + e.grace
	if remaining < 0 {
		remaining = 0
	}

	sessionID := s.data.ID
	participantID := p.id
	seq := p.attemptSeq
	p.timer = time.AfterFunc(remaining, func() {
		e.fireTimeout(sessionID, participantID, origIdx, seq)
	})
}

// fireTimeout runs on the timer goroutine; each participant's countdown is
// independent of every other participant's.
func (e *Engine) fireTimeout(sessionID, participantID string, origIdx, seq int) {
	s, err := e.sessionByID(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok || p.attemptSeq != seq || s.currentIndex(p) != origIdx {
		return
	}
	if p.progress.answered(origIdx) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.recordLocked(ctx, s, participantID, domain.AnswerPayload{
		QuestionIndex: origIdx,
		OptionIndex:   -1,
		TimedOut:      true,
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyAnswered) &&
		!errors.Is(err, domain.ErrSessionExpired) && !errors.Is(err, domain.ErrSessionEnded) {
		e.log.Warn("timeout record failed",
			zap.String("sessionId", sessionID),
			zap.String("participantId", participantID),
			zap.Error(err))
	}
}

func (e *Engine) persistParticipant(ctx context.Context, s *session, p *participantState) error {
	return e.setJSON(ctx, participantKey(s.data.ID, p.id), s.exportParticipant(p))
}

// publish pushes the session snapshot through the substrate. Failures here do
// not unwind already-durable participant writes; they are retried and logged.
func (e *Engine) publish(ctx context.Context, s *session) {
	snap := s.snapshot(e.tiers)
	if err := e.setJSON(ctx, snapshotKey(s.data.ID), snap); err != nil {
		e.log.Error("snapshot publish failed", zap.String("sessionId", s.data.ID), zap.Error(err))
	}
}

// setJSON writes a record with bounded retries; transient substrate failures
// are never surfaced as scoring results.
func (e *Engine) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, lastErr = e.substrate.Set(ctx, key, data); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("set %s: %w", key, lastErr)
}
