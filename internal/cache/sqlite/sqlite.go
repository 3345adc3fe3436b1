// Package sqlite provides a single-node [cache.Store] on an embedded SQLite
// database. It is the default store: no external service is required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
)

// Schema creates the cache tables. Timestamps are stored as Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS tts_audio (
    id          TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL,
    duration    REAL NOT NULL DEFAULT 0,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    size        INTEGER NOT NULL DEFAULT 0,
    language    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tts_audio_created ON tts_audio(created_at);

CREATE TABLE IF NOT EXISTS tts_alignment (
    audio_id   TEXT PRIMARY KEY REFERENCES tts_audio(id) ON DELETE CASCADE,
    words      TEXT NOT NULL DEFAULT '[]',
    method     TEXT NOT NULL,
    stats      TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
`

const audioColumns = `id, fingerprint, path, duration, sample_rate, size, language, model, created_at`

// Store is a [cache.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ cache.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies [Schema].
// Foreign keys are enabled on every connection so alignment rows cascade
// with their audio.
func Open(ctx context.Context, path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudio(row scanner) (cache.AudioEntry, error) {
	var (
		e       cache.AudioEntry
		created int64
	)
	if err := row.Scan(&e.ID, &e.Fingerprint, &e.Path, &e.Duration, &e.SampleRate,
		&e.Size, &e.Language, &e.Model, &created); err != nil {
		return cache.AudioEntry{}, err
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return e, nil
}

func (s *Store) getAudioWhere(ctx context.Context, q queryer, column, value string) (cache.AudioEntry, error) {
	query := `SELECT ` + audioColumns + ` FROM tts_audio WHERE ` + column + ` = ?`
	e, err := scanAudio(q.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return cache.AudioEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.AudioEntry{}, fmt.Errorf("sqlite: get audio %s=%q: %w", column, value, err)
	}
	return e, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetAudio implements [cache.Store].
func (s *Store) GetAudio(ctx context.Context, fingerprint string) (cache.AudioEntry, error) {
	return s.getAudioWhere(ctx, s.db, "fingerprint", fingerprint)
}

// GetAudioByID implements [cache.Store].
func (s *Store) GetAudioByID(ctx context.Context, id string) (cache.AudioEntry, error) {
	return s.getAudioWhere(ctx, s.db, "id", id)
}

// PutAudio implements [cache.Store].
func (s *Store) PutAudio(ctx context.Context, e cache.AudioEntry) (cache.AudioEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cache.AudioEntry{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO tts_audio (` + audioColumns + `)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (fingerprint) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert,
		e.ID, e.Fingerprint, e.Path, e.Duration, e.SampleRate,
		e.Size, e.Language, e.Model, e.CreatedAt.UnixNano(),
	); err != nil {
		return cache.AudioEntry{}, fmt.Errorf("sqlite: put audio %q: %w", e.Fingerprint, err)
	}
	stored, err := s.getAudioWhere(ctx, tx, "fingerprint", e.Fingerprint)
	if err != nil {
		return cache.AudioEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return cache.AudioEntry{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return stored, nil
}

func scanAlignment(row scanner) (cache.AlignmentEntry, error) {
	var (
		e                    cache.AlignmentEntry
		method               string
		wordsJSON, statsJSON string
		created              int64
	)
	if err := row.Scan(&e.AudioID, &wordsJSON, &method, &statsJSON, &created); err != nil {
		return cache.AlignmentEntry{}, err
	}
	e.Method = align.Method(method)
	e.CreatedAt = time.Unix(0, created).UTC()
	if err := json.Unmarshal([]byte(wordsJSON), &e.Words); err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("unmarshal words: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &e.Stats); err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return e, nil
}

func (s *Store) getAlignment(ctx context.Context, q queryer, audioID string) (cache.AlignmentEntry, error) {
	const query = `SELECT audio_id, words, method, stats, created_at FROM tts_alignment WHERE audio_id = ?`
	e, err := scanAlignment(q.QueryRowContext(ctx, query, audioID))
	if errors.Is(err, sql.ErrNoRows) {
		return cache.AlignmentEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: get alignment %q: %w", audioID, err)
	}
	return e, nil
}

// GetAlignment implements [cache.Store].
func (s *Store) GetAlignment(ctx context.Context, audioID string) (cache.AlignmentEntry, error) {
	return s.getAlignment(ctx, s.db, audioID)
}

// PutAlignment implements [cache.Store].
func (s *Store) PutAlignment(ctx context.Context, e cache.AlignmentEntry) (cache.AlignmentEntry, error) {
	words := e.Words
	if words == nil {
		words = []align.AlignedWord{}
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: marshal words: %w", err)
	}
	statsJSON, err := json.Marshal(e.Stats)
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: marshal stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO tts_alignment (audio_id, words, method, stats, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (audio_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert,
		e.AudioID, string(wordsJSON), string(e.Method), string(statsJSON), e.CreatedAt.UnixNano(),
	); err != nil {
		if isForeignKeyError(err) {
			return cache.AlignmentEntry{}, fmt.Errorf("sqlite: put alignment %q: %w", e.AudioID, cache.ErrConsistency)
		}
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: put alignment %q: %w", e.AudioID, err)
	}
	stored, err := s.getAlignment(ctx, tx, e.AudioID)
	if err != nil {
		return cache.AlignmentEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return stored, nil
}

// DeleteAudio implements [cache.Store].
func (s *Store) DeleteAudio(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tts_audio WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("sqlite: delete audio %q: %w", fingerprint, err)
	}
	return nil
}

// DeleteAlignment implements [cache.Store].
func (s *Store) DeleteAlignment(ctx context.Context, audioID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tts_alignment WHERE audio_id = ?`, audioID); err != nil {
		return fmt.Errorf("sqlite: delete alignment %q: %w", audioID, err)
	}
	return nil
}

// ListAudio implements [cache.Store].
func (s *Store) ListAudio(ctx context.Context) ([]cache.AudioEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+audioColumns+` FROM tts_audio ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audio: %w", err)
	}
	defer rows.Close()

	var out []cache.AudioEntry
	for rows.Next() {
		e, err := scanAudio(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list audio scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audio rows: %w", err)
	}
	return out, nil
}

// Ping implements [cache.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// isForeignKeyError reports whether err is a foreign key constraint failure.
func isForeignKeyError(err error) bool {
	var sqlErr *msqlite.Error
	if errors.As(err, &sqlErr) {
		if sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
		return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(sqlErr.Error(), "FOREIGN KEY")
	}
	return false
}
