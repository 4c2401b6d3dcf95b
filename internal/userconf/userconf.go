// Package userconf is a per-user namespaced key/value store backed by
// its own SQLite file. It carries state that belongs to a user rather
// than to a conversation: the active-session pointer, authorization
// levels, usage counters. Values are JSON-encoded; atomicity per key
// comes from the single upsert statement.
package userconf

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/user/chatkeeper/internal/types"
)

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS user_conf(
    namespace    TEXT,
    key          TEXT,
    hash_user_id TEXT,
    value        TEXT,
    PRIMARY KEY(namespace, key, hash_user_id)
);`

// Open creates or opens the user config store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create userconf dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open userconf: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init userconf: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get unmarshals the stored value into out and reports whether the key
// existed. A missing key leaves out untouched.
func (s *Store) Get(namespace, key string, owner types.OwnerHash, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(
		`SELECT value FROM user_conf WHERE namespace = ? AND key = ? AND hash_user_id = ?;`,
		namespace, key, string(owner),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("userconf get %s/%s: %w", namespace, key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("userconf decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// GetInt returns the stored integer or def when the key is absent.
func (s *Store) GetInt(namespace, key string, owner types.OwnerHash, def int) (int, error) {
	v := def
	ok, err := s.Get(namespace, key, owner, &v)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Set stores the JSON encoding of value, replacing any previous one.
func (s *Store) Set(namespace, key string, owner types.OwnerHash, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("userconf encode %s/%s: %w", namespace, key, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO user_conf(namespace, key, hash_user_id, value) VALUES (?, ?, ?, ?);`,
		namespace, key, string(owner), string(raw),
	)
	if err != nil {
		return fmt.Errorf("userconf set %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Clear removes the key. Clearing an absent key is not an error.
func (s *Store) Clear(namespace, key string, owner types.OwnerHash) error {
	_, err := s.db.Exec(
		`DELETE FROM user_conf WHERE namespace = ? AND key = ? AND hash_user_id = ?;`,
		namespace, key, string(owner),
	)
	if err != nil {
		return fmt.Errorf("userconf clear %s/%s: %w", namespace, key, err)
	}
	return nil
}
