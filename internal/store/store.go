// Package store keeps a SQLite record of the subtitled videos the server has
// produced so downloads can be listed and expired outputs reclaimed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode    = 5
	busyRetryAttempts = 5
	busyRetryBase     = 10 * time.Millisecond
	busyRetryMax      = 200 * time.Millisecond
)

// Output is one produced file in the output directory.
type Output struct {
	ID           string
	Filename     string
	OriginalName string
	Language     string
	SizeBytes    int64
	CreatedAt    time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts an output, replacing any earlier row with the same filename.
func (s *Store) Record(ctx context.Context, out Output) error {
	ctx = ensureContext(ctx)
	if out.ID == "" || out.Filename == "" {
		return errors.New("output id and filename are required")
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}

	_, err := s.execWithRetry(ctx, `INSERT INTO outputs (id, filename, original_name, language, size_bytes, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(filename) DO UPDATE SET
            id = excluded.id,
            original_name = excluded.original_name,
            language = excluded.language,
            size_bytes = excluded.size_bytes,
            created_at = excluded.created_at`,
		out.ID, out.Filename, out.OriginalName, out.Language, out.SizeBytes, out.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record output %s: %w", out.Filename, err)
	}
	return nil
}

// GetByFilename returns the output with the given filename, or nil when there
// is none.
func (s *Store) GetByFilename(ctx context.Context, filename string) (*Output, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, original_name, language, size_bytes, created_at
        FROM outputs WHERE filename = ?`, filename)

	out, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns outputs newest first. A limit of zero or less means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Output, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, original_name, language, size_bytes, created_at
        FROM outputs ORDER BY created_at DESC, filename LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var outputs []Output
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, *out)
	}
	return outputs, rows.Err()
}

// ListOlderThan returns rows created before cutoff, oldest first.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Output, error) {
	ctx = ensureContext(ctx)

	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, original_name, language, size_bytes, created_at
        FROM outputs WHERE created_at < ? ORDER BY created_at`, cutoff.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list expired outputs: %w", err)
	}
	defer rows.Close()

	var expired []Output
	for rows.Next() {
		out, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *out)
	}
	return expired, rows.Err()
}

// Delete removes the row for filename. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, filename string) error {
	ctx = ensureContext(ctx)
	if _, err := s.execWithRetry(ctx, `DELETE FROM outputs WHERE filename = ?`, filename); err != nil {
		return fmt.Errorf("delete output %s: %w", filename, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutput(row scanner) (*Output, error) {
	var (
		out     Output
		created int64
	)
	if err := row.Scan(&out.ID, &out.Filename, &out.OriginalName, &out.Language, &out.SizeBytes, &created); err != nil {
		return nil, err
	}
	out.CreatedAt = time.Unix(0, created).UTC()
	return &out, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryBase
	var err error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		err = op()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > busyRetryMax {
			delay = busyRetryMax
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
