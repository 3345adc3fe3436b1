// Package postgres provides a PostgreSQL-backed [cache.Store]. Several API
// replicas can share one database; combine it with a cross-process
// [cache.Locker] to keep single-flight production across replicas.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rodolfogoulart/mms-tts-api/internal/align"
	"github.com/rodolfogoulart/mms-tts-api/internal/cache"
)

// Schema is the SQL DDL for the cache tables. Execute it via [Store.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tts_audio (
    id          TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL UNIQUE,
    path        TEXT NOT NULL,
    duration    DOUBLE PRECISION NOT NULL DEFAULT 0,
    sample_rate INTEGER NOT NULL DEFAULT 0,
    size        BIGINT NOT NULL DEFAULT 0,
    language    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tts_audio_created ON tts_audio(created_at);

CREATE TABLE IF NOT EXISTS tts_alignment (
    audio_id   TEXT PRIMARY KEY REFERENCES tts_audio(id) ON DELETE CASCADE,
    words      JSONB NOT NULL DEFAULT '[]',
    method     TEXT NOT NULL,
    stats      JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const audioColumns = `id, fingerprint, path, duration, sample_rate, size, language, model, created_at`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [cache.Store] backed by PostgreSQL. Alignment words and stats
// are stored as JSONB.
type Store struct {
	db DB
}

// Compile-time interface check.
var _ cache.Store = (*Store)(nil)

// New returns a [Store] over db. The caller is responsible for calling
// [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudio(row scanner) (cache.AudioEntry, error) {
	var e cache.AudioEntry
	err := row.Scan(&e.ID, &e.Fingerprint, &e.Path, &e.Duration, &e.SampleRate,
		&e.Size, &e.Language, &e.Model, &e.CreatedAt)
	return e, err
}

func (s *Store) getAudioWhere(ctx context.Context, column, value string) (cache.AudioEntry, error) {
	query := `SELECT ` + audioColumns + ` FROM tts_audio WHERE ` + column + ` = $1`
	e, err := scanAudio(s.db.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.AudioEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.AudioEntry{}, fmt.Errorf("postgres: get audio %s=%q: %w", column, value, err)
	}
	return e, nil
}

// GetAudio implements [cache.Store].
func (s *Store) GetAudio(ctx context.Context, fingerprint string) (cache.AudioEntry, error) {
	return s.getAudioWhere(ctx, "fingerprint", fingerprint)
}

// GetAudioByID implements [cache.Store].
func (s *Store) GetAudioByID(ctx context.Context, id string) (cache.AudioEntry, error) {
	return s.getAudioWhere(ctx, "id", id)
}

// PutAudio implements [cache.Store]. The insert and the fallback read of an
// existing row run as one statement.
func (s *Store) PutAudio(ctx context.Context, e cache.AudioEntry) (cache.AudioEntry, error) {
	const query = `
		WITH ins AS (
			INSERT INTO tts_audio (` + audioColumns + `)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (fingerprint) DO NOTHING
			RETURNING ` + audioColumns + `
		)
		SELECT ` + audioColumns + ` FROM ins
		UNION ALL
		SELECT ` + audioColumns + ` FROM tts_audio WHERE fingerprint = $2
		LIMIT 1`

	stored, err := scanAudio(s.db.QueryRow(ctx, query,
		e.ID, e.Fingerprint, e.Path, e.Duration, e.SampleRate,
		e.Size, e.Language, e.Model, e.CreatedAt,
	))
	if err != nil {
		return cache.AudioEntry{}, fmt.Errorf("postgres: put audio %q: %w", e.Fingerprint, err)
	}
	return stored, nil
}

// GetAlignment implements [cache.Store].
func (s *Store) GetAlignment(ctx context.Context, audioID string) (cache.AlignmentEntry, error) {
	const query = `
		SELECT audio_id, words, method, stats, created_at
		FROM tts_alignment
		WHERE audio_id = $1`

	e, err := scanAlignment(s.db.QueryRow(ctx, query, audioID))
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.AlignmentEntry{}, cache.ErrNotFound
	}
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("postgres: get alignment %q: %w", audioID, err)
	}
	return e, nil
}

func scanAlignment(row scanner) (cache.AlignmentEntry, error) {
	var (
		e                    cache.AlignmentEntry
		method               string
		wordsJSON, statsJSON []byte
	)
	if err := row.Scan(&e.AudioID, &wordsJSON, &method, &statsJSON, &e.CreatedAt); err != nil {
		return cache.AlignmentEntry{}, err
	}
	e.Method = align.Method(method)
	if err := json.Unmarshal(wordsJSON, &e.Words); err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("unmarshal words: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &e.Stats); err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("unmarshal stats: %w", err)
	}
	return e, nil
}

// PutAlignment implements [cache.Store].
func (s *Store) PutAlignment(ctx context.Context, e cache.AlignmentEntry) (cache.AlignmentEntry, error) {
	words := e.Words
	if words == nil {
		words = []align.AlignedWord{}
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("postgres: marshal words: %w", err)
	}
	statsJSON, err := json.Marshal(e.Stats)
	if err != nil {
		return cache.AlignmentEntry{}, fmt.Errorf("postgres: marshal stats: %w", err)
	}

	const query = `
		WITH ins AS (
			INSERT INTO tts_alignment (audio_id, words, method, stats, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (audio_id) DO NOTHING
			RETURNING audio_id, words, method, stats, created_at
		)
		SELECT audio_id, words, method, stats, created_at FROM ins
		UNION ALL
		SELECT audio_id, words, method, stats, created_at FROM tts_alignment WHERE audio_id = $1
		LIMIT 1`

	stored, err := scanAlignment(s.db.QueryRow(ctx, query,
		e.AudioID, wordsJSON, string(e.Method), statsJSON, e.CreatedAt,
	))
	if err != nil {
		if isForeignKeyError(err) {
			return cache.AlignmentEntry{}, fmt.Errorf("postgres: put alignment %q: %w", e.AudioID, cache.ErrConsistency)
		}
		return cache.AlignmentEntry{}, fmt.Errorf("postgres: put alignment %q: %w", e.AudioID, err)
	}
	return stored, nil
}

// DeleteAudio implements [cache.Store]. The alignment goes with it through
// the ON DELETE CASCADE constraint.
func (s *Store) DeleteAudio(ctx context.Context, fingerprint string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tts_audio WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("postgres: delete audio %q: %w", fingerprint, err)
	}
	return nil
}

// DeleteAlignment implements [cache.Store].
func (s *Store) DeleteAlignment(ctx context.Context, audioID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tts_alignment WHERE audio_id = $1`, audioID); err != nil {
		return fmt.Errorf("postgres: delete alignment %q: %w", audioID, err)
	}
	return nil
}

// ListAudio implements [cache.Store].
func (s *Store) ListAudio(ctx context.Context) ([]cache.AudioEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+audioColumns+` FROM tts_audio ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audio: %w", err)
	}
	defer rows.Close()

	var out []cache.AudioEntry
	for rows.Next() {
		e, err := scanAudio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list audio scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audio rows: %w", err)
	}
	return out, nil
}

// Ping implements [cache.Store].
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// isForeignKeyError reports whether err is a PostgreSQL foreign key
// violation (SQLSTATE 23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
