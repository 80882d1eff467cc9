package store

import (
	"context"
	"errors"
	"fmt"
)

// schemaVersion is bumped whenever schemaSQL changes shape.
const schemaVersion = 2

// ErrSchemaMismatch reports a database created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracks (
    id         TEXT PRIMARY KEY,
    path       TEXT NOT NULL UNIQUE,
    data       TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- name_key is the case-folded name; SQLite NOCASE only folds ASCII.
CREATE TABLE IF NOT EXISTS people (
    id       TEXT PRIMARY KEY,
    name     TEXT NOT NULL,
    name_key TEXT NOT NULL UNIQUE
);

-- People and streams are written during a probe, before the track row
-- itself is saved, so they are keyed by track id without a foreign key.
CREATE TABLE IF NOT EXISTS track_people (
    track_id  TEXT NOT NULL,
    person_id TEXT NOT NULL REFERENCES people(id),
    position  INTEGER NOT NULL,
    type      TEXT NOT NULL,
    role      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (track_id, person_id)
);

CREATE TABLE IF NOT EXISTS media_streams (
    track_id     TEXT NOT NULL,
    stream_index INTEGER NOT NULL,
    data         TEXT NOT NULL,
    PRIMARY KEY (track_id, stream_index)
);

CREATE INDEX IF NOT EXISTS idx_track_people_person ON track_people(person_id);
`

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to rescan)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
