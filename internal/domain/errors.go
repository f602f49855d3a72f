package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for an id or code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired rejects writes once the session TTL has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionEnded rejects writes after the host has ended the session.
	ErrSessionEnded = errors.New("session ended")
	// ErrSessionAlreadyActive signals a host already runs a live session for the quiz.
	ErrSessionAlreadyActive = errors.New("session already active for this quiz")
	// ErrParticipantNotFound is returned when an identity has no join record.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrAlreadyAnswered rejects duplicate submissions for one question in one attempt.
	ErrAlreadyAnswered = errors.New("question already answered in this attempt")
	// ErrRetryForbidden rejects resets in single-attempt sessions.
	ErrRetryForbidden = errors.New("retries are not allowed in this session")
	// ErrNoMoreQuestions rejects advancing past the last question.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrInvalidAnswerPayload rejects malformed submissions before scoring.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrNotSessionHost rejects host-only operations from other identities.
	ErrNotSessionHost = errors.New("caller is not the session host")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrRecordNotFound is the substrate's miss result.
	ErrRecordNotFound = errors.New("record not found")
)
