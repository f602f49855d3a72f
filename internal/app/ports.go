package app

import (
	"context"
	"encoding/json"

	"quiz-session-engine/internal/domain"
)

// Record is the unit of storage and notification. Version is monotonic per
// key so observers can de-duplicate at-least-once deliveries.
type Record struct {
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Substrate abstracts the persistence/notification layer (in-memory, Redis, etc).
// It is a durable key-value store with push notification, nothing more.
type Substrate interface {
	Get(ctx context.Context, key string) (Record, error)
	Set(ctx context.Context, key string, data []byte) (Record, error)
	Update(ctx context.Context, key string, fields map[string]any) (Record, error)
	Delete(ctx context.Context, key string) error
	Subscribe(key string, fn func(Record)) (func(), error)
}

// QuizCatalog loads immutable quiz definitions (from cache/backing store).
type QuizCatalog interface {
	GetQuizByID(ctx context.Context, quizID string) (domain.Quiz, error)
}

// HistoryArchiver copies participant history into long-term storage at session
// end, after the substrate's history record is durable. Optional; failures are
// logged, never surfaced to the host.
type HistoryArchiver interface {
	ArchiveHistory(ctx context.Context, history domain.ParticipantHistory) error
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func snapshotKey(sessionID string) string {
	return "session:" + sessionID + ":snapshot"
}

func codeKey(code string) string {
	return "code:" + code
}

func participantKey(sessionID, participantID string) string {
	return "participant:" + sessionID + ":" + participantID
}

func historyKey(participantID, sessionID string) string {
	return "history:" + participantID + ":" + sessionID
}
