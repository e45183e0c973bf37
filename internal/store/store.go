// Package store is the transactional persistence layer for foundry. It owns
// every durable row — repos, jobs, logs, commits, schedules, the webhook
// archive — and exposes a closed set of primitives; callers never see SQL.
//
// The queue discipline lives here: ClaimNext is the only queued→running
// transition and uses FOR UPDATE SKIP LOCKED so concurrent agents never
// block on, or double-claim, the same row.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// StorageError wraps any database-level failure. Guard refusals (bad token,
// wrong status) are not errors; they surface as a false applied flag.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an operation is refused by state, e.g.
// rerunning a job that is not terminal.
var ErrConflict = errors.New("store: conflict")

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Store provides all persistence primitives on a single Postgres pool.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	slog.Info("postgres connected")
	return &Store{db: db}, nil
}

// New wraps an existing connection, used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx")}
}

func (s *Store) Close() error { return s.db.Close() }

// --- Nullable and array helpers ---

func nilStr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nilInt64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// textArray converts a string slice to a Postgres text[] literal. Values
// containing commas or braces are quoted.
func textArray(arr []string) interface{} {
	if arr == nil {
		return nil
	}
	quoted := make([]string, len(arr))
	for i, v := range arr {
		if strings.ContainsAny(v, `,{} "\\`) {
			v = `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// scanTextArray parses a text[] column scanned as []byte.
func scanTextArray(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimSuffix(strings.TrimPrefix(string(data), "{"), "}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(p, `"`)
	}
	return parts
}
