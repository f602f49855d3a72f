package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

const createSessionArchiveSQL = `
CREATE TABLE IF NOT EXISTS session_archive (
    id             BIGSERIAL PRIMARY KEY,
    session_id     TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    data           JSONB NOT NULL,
    archived_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS session_archive_participant_idx
    ON session_archive (participant_id, session_id)`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createSessionArchiveSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS session_archive`)
			return err
		},
	)
}
