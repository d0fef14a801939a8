package cache

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS asset_records (
    id             TEXT PRIMARY KEY,
    remote_ref     TEXT NOT NULL,
    raw_path       TEXT,
    playable_path  TEXT,
    stage          TEXT NOT NULL,
    failure_reason TEXT,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_asset_records_stage ON asset_records(stage);
`

func (s *Store) applySchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
