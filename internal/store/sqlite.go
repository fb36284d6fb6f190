// internal/store/sqlite.go
//
// SQLite implementation of the Store interface.
// Both execution environments share the games table and are told apart by
// the env column, so one database file can host the base layer and the
// ephemeral executor side by side.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/crocdentist/internal/game"
)

const recordColumns = `namespace, game_index, address, owner, delegated, validator,
	total_teeth, pressed_teeth, teeth_pressed_count, current_tooth, game_over,
	phase, request_id, requested_at, last_outcome, last_draw, updated_at`

// DSN builds the go-sqlite3 connection string for the database file at path.
// Transactions begin IMMEDIATE: Update takes the write lock before its read,
// so concurrent writers wait out the busy timeout instead of failing the
// lock upgrade.
func DSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

type sqliteStore struct {
	db  *sql.DB
	env string
	now func() time.Time
}

// NewSQLiteStore returns a Store over db scoped to the given environment name.
// The schema must already be migrated (see Migrate).
func NewSQLiteStore(db *sql.DB, env string) Store {
	return &sqliteStore{db: db, env: env, now: time.Now}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r           Record
		pressed     int64
		delegated   int
		gameOver    int
		phase       string
		outcome     string
		requestedAt string
		updatedAt   string
	)
	err := row.Scan(
		&r.Key.Namespace, &r.Key.Index, &r.Address, &r.Owner, &delegated, &r.Validator,
		&r.State.TotalTeeth, &pressed, &r.State.TeethPressedCount, &r.State.CurrentTooth, &gameOver,
		&phase, &r.State.RequestID, &requestedAt, &outcome, &r.State.LastDraw, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Delegated = delegated != 0
	r.State.GameIndex = r.Key.Index
	r.State.PressedTeeth = game.Bitmap(pressed)
	r.State.GameOver = gameOver != 0
	r.State.Phase = game.Phase(phase)
	r.State.LastOutcome = game.Outcome(outcome)
	r.State.RequestedAt = parseTime(requestedAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// recordArgs flattens rec in recordColumns order.
func recordArgs(rec *Record) []any {
	s := rec.State
	return []any{
		rec.Key.Namespace, rec.Key.Index, rec.Address, rec.Owner, boolInt(rec.Delegated), rec.Validator,
		s.TotalTeeth, int64(s.PressedTeeth), s.TeethPressedCount, s.CurrentTooth, boolInt(s.GameOver),
		string(s.Phase), s.RequestID, formatTime(s.RequestedAt), string(s.LastOutcome), s.LastDraw,
		formatTime(rec.UpdatedAt),
	}
}

func (s *sqliteStore) Create(ctx context.Context, rec *Record) (bool, error) {
	c := rec.Clone()
	c.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO games (env, `+recordColumns+`)
		 VALUES (?, ?,?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?)`,
		append([]any{s.env}, recordArgs(c)...)...,
	)
	if err != nil {
		return false, fmt.Errorf("insert game %s: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) Get(ctx context.Context, key Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM games WHERE env=? AND namespace=? AND game_index=?`,
		s.env, key.Namespace, key.Index)
	return scanRecord(row)
}

func (s *sqliteStore) GetByAddress(ctx context.Context, addr string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM games WHERE env=? AND address=?`, s.env, addr)
	return scanRecord(row)
}

func (s *sqliteStore) Update(ctx context.Context, key Key, fn func(*Record) error) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM games WHERE env=? AND namespace=? AND game_index=?`,
		s.env, key.Namespace, key.Index)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.Key = key
	rec.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit game %s: %w", key, err)
	}
	return rec, nil
}

func (s *sqliteStore) Put(ctx context.Context, rec *Record) error {
	c := rec.Clone()
	c.UpdatedAt = s.now().UTC()
	return s.write(ctx, s.db, c)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) write(ctx context.Context, ex execer, rec *Record) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO games (env, `+recordColumns+`)
		 VALUES (?, ?,?,?,?,?,?, ?,?,?,?,?, ?,?,?,?,?,?)`,
		append([]any{s.env}, recordArgs(rec)...)...,
	)
	if err != nil {
		return fmt.Errorf("write game %s: %w", rec.Key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM games WHERE env=? AND namespace=? AND game_index=?`,
		s.env, key.Namespace, key.Index)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses RFC3339 timestamps; empty or invalid input yields zero time.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
