// Package store persists tracks, their credited people and media streams
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"

	"trackprobe/internal/models"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a requested track does not exist.
var ErrNotFound = errors.New("track not found")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	personCacheExpiration = 30 * time.Minute
	personCacheCleanup    = 10 * time.Minute
)

// Store manages track persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	// personIDs maps folded person names to registry ids.
	personIDs *cache.Cache
}

// Open initializes or connects to the database at path. Parent directories
// are created as needed; MemoryPath keeps everything in memory.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{
		db:        db,
		path:      path,
		personIDs: cache.New(personCacheExpiration, personCacheCleanup),
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// inTx runs fn inside a transaction, retrying the whole unit while the
// database is busy.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// SaveTrack inserts or replaces track. Tracks are keyed by ID; the path
// must be unique across tracks.
func (s *Store) SaveTrack(ctx context.Context, track *models.Track) error {
	if track == nil || track.ID == "" {
		return errors.New("save track: id is required")
	}
	data, err := json.Marshal(track)
	if err != nil {
		return fmt.Errorf("encode track %s: %w", track.ID, err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO tracks (id, path, data, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET path = excluded.path, data = excluded.data, updated_at = excluded.updated_at`,
		track.ID, track.Path, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save track %s: %w", track.ID, err)
	}
	return nil
}

// GetTrack returns the track stored under id.
func (s *Store) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM tracks WHERE id = ?", id)
	return scanTrack(row, id)
}

// GetTrackByPath returns the track stored for path.
func (s *Store) GetTrackByPath(ctx context.Context, path string) (*models.Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM tracks WHERE path = ?", path)
	return scanTrack(row, path)
}

func scanTrack(row *sql.Row, key string) (*models.Track, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("load track %s: %w", key, err)
	}
	var track models.Track
	if err := json.Unmarshal([]byte(data), &track); err != nil {
		return nil, fmt.Errorf("decode track %s: %w", key, err)
	}
	return &track, nil
}

// ListTracks returns all tracks ordered by path.
func (s *Store) ListTracks(ctx context.Context) ([]models.Track, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM tracks ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		var track models.Track
		if err := json.Unmarshal([]byte(data), &track); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// DeleteTracksNotIn removes every track whose path is not listed and
// returns the number of tracks removed.
func (s *Store) DeleteTracksNotIn(ctx context.Context, paths []string) (int, error) {
	keep := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		keep[path] = struct{}{}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, path FROM tracks")
	if err != nil {
		return 0, fmt.Errorf("list track paths: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan track path: %w", err)
		}
		if _, ok := keep[path]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("list track paths: %w", err)
	}
	rows.Close()

	if len(stale) == 0 {
		return 0, nil
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range stale {
			for _, query := range []string{
				"DELETE FROM track_people WHERE track_id = ?",
				"DELETE FROM media_streams WHERE track_id = ?",
				"DELETE FROM tracks WHERE id = ?",
			} {
				if _, err := tx.ExecContext(ctx, query, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale tracks: %w", err)
	}
	return len(stale), nil
}

// UpdatePeople replaces the people credited on track. People are shared
// library-wide by case-insensitive name.
func (s *Store) UpdatePeople(ctx context.Context, track *models.Track, people []models.Person) error {
	if track == nil || track.ID == "" {
		return errors.New("update people: track id is required")
	}

	resolved := make(map[string]string)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		clear(resolved)
		if _, err := tx.ExecContext(ctx, "DELETE FROM track_people WHERE track_id = ?", track.ID); err != nil {
			return err
		}
		for i, person := range people {
			name := strings.TrimSpace(person.Name)
			if name == "" {
				continue
			}
			id, err := s.personID(ctx, tx, name)
			if err != nil {
				return err
			}
			resolved[personKey(name)] = id
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO track_people (track_id, person_id, position, type, role) VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(track_id, person_id) DO UPDATE SET type = excluded.type, role = excluded.role`,
				track.ID, id, i, string(person.Type), person.Role,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update people for %s: %w", track.ID, err)
	}

	for key, id := range resolved {
		s.personIDs.Set(key, id, cache.DefaultExpiration)
	}
	return nil
}

func personKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// personID returns the registry id for name, creating the person when the
// name is new.
func (s *Store) personID(ctx context.Context, tx *sql.Tx, name string) (string, error) {
	key := personKey(name)
	if cached, ok := s.personIDs.Get(key); ok {
		return cached.(string), nil
	}

	var id string
	err := tx.QueryRowContext(ctx, "SELECT id FROM people WHERE name_key = ?", key).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx, "INSERT INTO people (id, name, name_key) VALUES (?, ?, ?)", id, name, key); err != nil {
		return "", err
	}
	return id, nil
}

// People returns the people credited on the track in credit order.
func (s *Store) People(ctx context.Context, trackID string) ([]models.Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.name, tp.type, tp.role FROM track_people tp
         JOIN people p ON p.id = tp.person_id
         WHERE tp.track_id = ? ORDER BY tp.position`,
		trackID,
	)
	if err != nil {
		return nil, fmt.Errorf("list people for %s: %w", trackID, err)
	}
	defer rows.Close()

	var people []models.Person
	for rows.Next() {
		var person models.Person
		var personType string
		if err := rows.Scan(&person.Name, &personType, &person.Role); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		person.Type = models.PersonType(personType)
		people = append(people, person)
	}
	return people, rows.Err()
}

// SaveMediaStreams replaces all streams stored for the track.
func (s *Store) SaveMediaStreams(ctx context.Context, trackID string, streams []models.MediaStream) error {
	if trackID == "" {
		return errors.New("save media streams: track id is required")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM media_streams WHERE track_id = ?", trackID); err != nil {
			return err
		}
		for i, stream := range streams {
			data, err := json.Marshal(stream)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO media_streams (track_id, stream_index, data) VALUES (?, ?, ?)",
				trackID, i, string(data),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save media streams for %s: %w", trackID, err)
	}
	return nil
}

// MediaStreams returns the stored streams of the track in order.
func (s *Store) MediaStreams(ctx context.Context, trackID string) ([]models.MediaStream, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM media_streams WHERE track_id = ? ORDER BY stream_index", trackID)
	if err != nil {
		return nil, fmt.Errorf("list media streams for %s: %w", trackID, err)
	}
	defer rows.Close()

	var streams []models.MediaStream
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan media stream: %w", err)
		}
		var stream models.MediaStream
		if err := json.Unmarshal([]byte(data), &stream); err != nil {
			return nil, fmt.Errorf("decode media stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}
