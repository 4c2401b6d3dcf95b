// Package store provides the durable conversation store: session
// metadata in a master table plus one append-only log table per
// session, all in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/chatkeeper/internal/types"
)

// schemaVersion is stamped into PRAGMA user_version on first creation.
// Opening a file reporting any other non-zero version is fatal.
const schemaVersion = 1

var (
	// ErrTimeout is returned when a unit of work does not complete
	// within the store's configured timeout.
	ErrTimeout = errors.New("store: operation timed out")
	// ErrNoFields is returned by UpdateMessage when nothing to set.
	ErrNoFields = errors.New("store: no fields to update")
	// ErrNotFound is returned when no row matched the operation.
	ErrNotFound = errors.New("store: no matching row")
	// ErrClosed is returned for operations submitted after Close.
	ErrClosed = errors.New("store: closed")
)

// Error wraps a failed store operation with the operation name.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

type job struct {
	fn   func(tx *sql.Tx) error
	done chan error
}

// Store serializes all statements for a unit of work on one worker, each
// worker owning one exclusive database connection for its lifetime.
// Units of work on different workers run in parallel.
type Store struct {
	db      *sql.DB
	jobs    chan job
	done    chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// Open creates or opens the store at path. workers bounds the connection
// pool; timeout bounds how long any caller waits for its unit of work.
func Open(path string, workers int, timeout time.Duration) (*Store, error) {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(workers)

	s := &Store{
		db:      db,
		jobs:    make(chan job),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s, nil
}

// initSchema creates the master table and checks the schema version.
// Version 0 means a fresh file and is stamped silently.
func (s *Store) initSchema() error {
	ctx := context.Background()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, createMasterTable); err != nil {
		return &Error{Op: "create master table", Err: err}
	}

	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return &Error{Op: "read schema version", Err: err}
	}
	switch version {
	case schemaVersion:
	case 0:
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", schemaVersion)); err != nil {
			return &Error{Op: "stamp schema version", Err: err}
		}
	default:
		return fmt.Errorf("store: schema version %d not supported, this build expects %d", version, schemaVersion)
	}
	return nil
}

// worker owns one connection and drains units of work, each inside its
// own transaction.
func (s *Store) worker() {
	defer s.wg.Done()
	conn, err := s.db.Conn(context.Background())
	if err != nil {
		for {
			select {
			case j := <-s.jobs:
				j.done <- &Error{Op: "acquire connection", Err: err}
			case <-s.done:
				return
			}
		}
	}
	defer conn.Close()

	for {
		select {
		case j := <-s.jobs:
			j.done <- runTx(conn, j.fn)
		case <-s.done:
			return
		}
	}
}

func runTx(conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		return &Error{Op: "begin", Err: err}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "commit", Err: err}
	}
	return nil
}

// do hands one unit of work to a worker and waits for its result. The
// timeout spans both the wait for a free worker and the work itself.
func (s *Store) do(fn func(*sql.Tx) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.jobs <- j:
	case <-s.done:
		return ErrClosed
	case <-timer.C:
		return ErrTimeout
	}
	select {
	case err := <-j.done:
		return err
	case <-timer.C:
		return ErrTimeout
	}
}

// Close stops the workers and closes the database. The jobs channel is
// never closed; callers racing Close get ErrClosed instead of a panic.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.db.Close()
}

// CreateSession inserts a session row and its empty log table. An empty
// name defaults to the generated id.
func (s *Store) CreateSession(owner types.OwnerHash, name, model string) (*types.Session, error) {
	id := types.NewSessionID()
	if name == "" {
		name = string(id)
	}
	table, err := logTable(id)
	if err != nil {
		return nil, &Error{Op: "create session", Err: err}
	}

	err = s.do(func(tx *sql.Tx) error {
		if _, err := tx.Exec(createLogTable(table)); err != nil {
			return &Error{Op: "create log table", Err: err}
		}
		if _, err := tx.Exec(createLogTrigger(table, id)); err != nil {
			return &Error{Op: "create log trigger", Err: err}
		}
		if _, err := tx.Exec(insertSession, name, string(id), string(owner), model); err != nil {
			return &Error{Op: "insert session", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &types.Session{ID: id, Name: name, Owner: owner, Model: model}, nil
}

// AppendMessage inserts one log row and returns its assigned logline.
// Loglines are strictly increasing within a session and never reused.
func (s *Store) AppendMessage(id types.SessionID, role, content string, code int) (int64, error) {
	table, err := logTable(id)
	if err != nil {
		return 0, &Error{Op: "append message", Err: err}
	}

	var line int64
	err = s.do(func(tx *sql.Tx) error {
		res, err := tx.Exec(insertMessage(table), role, content, code)
		if err != nil {
			return &Error{Op: "append message", Err: err}
		}
		line, err = res.LastInsertId()
		if err != nil {
			return &Error{Op: "append message", Err: err}
		}
		return nil
	})
	return line, err
}

// Fields selects which message columns UpdateMessage sets. Nil fields
// are left untouched; all nil is an error.
type Fields struct {
	Role    *string
	Content *string
	Status  *int
}

// UpdateMessage rewrites one log row. A non-negative line addresses the
// row by logline. A negative line counts backward from the newest row,
// restricted to rows with status < ceiling when ceiling > 0 (line -1 is
// the newest such row).
func (s *Store) UpdateMessage(id types.SessionID, line int64, ceiling int, f Fields) error {
	table, err := logTable(id)
	if err != nil {
		return &Error{Op: "update message", Err: err}
	}

	var sets []string
	var args []any
	if f.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *f.Role)
	}
	if f.Content != nil {
		sets = append(sets, "message = ?")
		args = append(args, *f.Content)
	}
	if f.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *f.Status)
	}
	if len(sets) == 0 {
		return ErrNoFields
	}

	var where string
	switch {
	case line >= 0:
		where = "logline = ?"
	case ceiling > 0:
		where = fmt.Sprintf("logline = (SELECT MAX(logline) FROM %s WHERE status < %d) + ? + 1", table, ceiling)
	default:
		where = fmt.Sprintf("logline = (SELECT MAX(logline) FROM %s) + ? + 1", table)
	}
	args = append(args, line)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s;", table, strings.Join(sets, ", "), where)
	return s.do(func(tx *sql.Tx) error {
		res, err := tx.Exec(stmt, args...)
		if err != nil {
			return &Error{Op: "update message", Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return &Error{Op: "update message", Err: err}
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecallLast reclassifies the newest n rows with status < ceiling by
// adding offset to their status, atomically.
func (s *Store) RecallLast(id types.SessionID, n, offset, ceiling int) error {
	table, err := logTable(id)
	if err != nil {
		return &Error{Op: "recall messages", Err: err}
	}
	stmt := fmt.Sprintf(`
UPDATE %s SET status = status + ?
WHERE logline IN (SELECT logline FROM %s WHERE status < ? ORDER BY logline DESC LIMIT ?);`, table, table)
	return s.do(func(tx *sql.Tx) error {
		if _, err := tx.Exec(stmt, offset, ceiling, n); err != nil {
			return &Error{Op: "recall messages", Err: err}
		}
		return nil
	})
}

// ListMessages returns all rows with status < ceiling in ascending
// logline order.
func (s *Store) ListMessages(id types.SessionID, ceiling int) ([]types.Message, error) {
	table, err := logTable(id)
	if err != nil {
		return nil, &Error{Op: "list messages", Err: err}
	}

	var out []types.Message
	err = s.do(func(tx *sql.Tx) error {
		rows, err := tx.Query(selectMessages(table), ceiling)
		if err != nil {
			return &Error{Op: "list messages", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var m types.Message
			if err := rows.Scan(&m.Logline, &m.Role, &m.Content, &m.Status, &m.RecordedAt); err != nil {
				return &Error{Op: "scan message", Err: err}
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// ListSessions returns all sessions owned by the given user hash.
func (s *Store) ListSessions(owner types.OwnerHash) ([]types.Session, error) {
	var out []types.Session
	err := s.do(func(tx *sql.Tx) error {
		rows, err := tx.Query(selectSessionsByOwner, string(owner))
		if err != nil {
			return &Error{Op: "list sessions", Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var sess types.Session
			if err := rows.Scan(&sess.Name, &sess.ID, &sess.Owner, &sess.Model, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
				return &Error{Op: "scan session", Err: err}
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteSession removes the master row and drops the session's log table
// and trigger in one transaction. The drops are unconditional, so a
// half-deleted session can be cleaned up by deleting again.
func (s *Store) DeleteSession(id types.SessionID) error {
	table, err := logTable(id)
	if err != nil {
		return &Error{Op: "delete session", Err: err}
	}
	return s.do(func(tx *sql.Tx) error {
		if _, err := tx.Exec(deleteSessionRow, string(id)); err != nil {
			return &Error{Op: "delete session row", Err: err}
		}
		if _, err := tx.Exec(dropLogTable(table)); err != nil {
			return &Error{Op: "drop log table", Err: err}
		}
		if _, err := tx.Exec(dropLogTrigger(id)); err != nil {
			return &Error{Op: "drop log trigger", Err: err}
		}
		return nil
	})
}
