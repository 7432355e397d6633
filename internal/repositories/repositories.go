package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories run over either, so the same code serves pooled reads and
// unit-of-work writes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the per-entity repositories over one database handle.
type Store struct {
	db   *sql.DB
	dbtx DBTX

	Tracks          *TrackRepository
	ConnectorTracks *ConnectorTrackRepository
	Mappings        *MappingRepository
	Metrics         *MetricRepository
	Likes           *LikeRepository
	Plays           *PlayRepository
	Checkpoints     *CheckpointRepository
	Playlists       *PlaylistRepository
	Users           *UserRepository
	Jobs            *JobRepository
	Tokens          *TokenRepository
}

// NewStore creates a Store over a database connection pool.
func NewStore(db *sql.DB) *Store {
	return bindStore(db, db)
}

func bindStore(db *sql.DB, dbtx DBTX) *Store {
	return &Store{
		db:              db,
		dbtx:            dbtx,
		Tracks:          &TrackRepository{dbtx: dbtx},
		ConnectorTracks: &ConnectorTrackRepository{dbtx: dbtx},
		Mappings:        &MappingRepository{dbtx: dbtx},
		Metrics:         &MetricRepository{dbtx: dbtx},
		Likes:           &LikeRepository{dbtx: dbtx},
		Plays:           &PlayRepository{dbtx: dbtx},
		Checkpoints:     &CheckpointRepository{dbtx: dbtx},
		Playlists:       &PlaylistRepository{dbtx: dbtx},
		Users:           &UserRepository{dbtx: dbtx},
		Jobs:            &JobRepository{dbtx: dbtx},
		Tokens:          &TokenRepository{dbtx: dbtx},
	}
}

// DB exposes the underlying pool for lifecycle management.
func (s *Store) DB() *sql.DB { return s.db }

// WithUnitOfWork runs fn against a transaction-bound Store. The transaction
// commits when fn returns nil and rolls back on error or panic, so every exit
// path returns the connection to the pool. Long-running operations must not
// call remote services inside fn; split into read, remote I/O, then a short
// write unit of work.
func (s *Store) WithUnitOfWork(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(bindStore(s.db, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a named savepoint when the Store is already
// transaction-bound, releasing on success and rolling back to the savepoint on
// error. Outside a transaction it falls back to a full unit of work.
func (s *Store) Savepoint(ctx context.Context, name string, fn func(*Store) error) error {
	tx, ok := s.dbtx.(*sql.Tx)
	if !ok {
		return s.WithUnitOfWork(ctx, fn)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(s); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint after %v: %w", err, rbErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// placeholders renders "?, ?, ?" for an IN clause of n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// int64Args widens ids into query arguments.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// marshalStrings serializes a string list as JSON text for a row column.
func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a JSON string list column.
func unmarshalStrings(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return values, nil
}

// splitAndTrim splits on a separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// nullTime converts an optional timestamp for a nullable column.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullTimeValue treats the zero time as NULL for a nullable column.
func nullTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// timePtr converts a scanned nullable timestamp back to an optional UTC value.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

// nullInt64 converts an optional integer for a nullable column.
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// int64Ptr converts a scanned nullable integer back to an optional value.
func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	val := v.Int64
	return &val
}
