package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"quiz-session-engine/internal/domain"
)

// SessionArchive persists participant history to the session_archive table so
// results outlive the substrate records, which are deleted at session end.
type SessionArchive struct {
	db *bun.DB
}

func NewSessionArchive(db *bun.DB) *SessionArchive {
	return &SessionArchive{db: db}
}

func (a *SessionArchive) ArchiveHistory(ctx context.Context, history domain.ParticipantHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO session_archive (session_id, participant_id, data, archived_at) VALUES (?, ?, ?::jsonb, ?)`,
		history.SessionID, history.ParticipantID, string(data), history.ArchivedAt)
	if err != nil {
		return fmt.Errorf("archive history: %w", err)
	}
	return nil
}

// HistoryFor returns a participant's archived runs, newest first.
func (a *SessionArchive) HistoryFor(ctx context.Context, participantID string) ([]domain.ParticipantHistory, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT data FROM session_archive WHERE participant_id = ? ORDER BY archived_at DESC`,
		participantID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.ParticipantHistory
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		var history domain.ParticipantHistory
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		out = append(out, history)
	}
	return out, rows.Err()
}
