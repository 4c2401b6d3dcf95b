// internal/store/queries.go
package store

import (
	"fmt"

	"github.com/user/chatkeeper/internal/types"
)

// Statement constants and builders, grouped by table. Per-session log
// tables share one schema; their names embed the session id, which is
// validated hex (see logTable) before it is ever spliced into SQL.

const createMasterTable = `
CREATE TABLE IF NOT EXISTS table_master(
    session_name     TEXT,
    session_id       TEXT      PRIMARY KEY,
    hash_user_id     TEXT,
    model_name       TEXT,
    time_create_time DATETIME  DEFAULT CURRENT_TIMESTAMP,
    time_last_update DATETIME  DEFAULT CURRENT_TIMESTAMP
);`

const insertSession = `
INSERT INTO table_master(session_name, session_id, hash_user_id, model_name)
VALUES (?, ?, ?, ?);`

const selectSessionsByOwner = `
SELECT session_name, session_id, hash_user_id, model_name, time_create_time, time_last_update
FROM table_master WHERE hash_user_id = ?;`

const deleteSessionRow = `DELETE FROM table_master WHERE session_id = ?;`

func logTable(id types.SessionID) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty session id")
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("session id %q is not valid hex", id)
		}
	}
	return "table_log_" + string(id), nil
}

func createLogTable(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s(
    logline     INTEGER   PRIMARY KEY AUTOINCREMENT,
    role        TEXT,
    message     TEXT,
    time_record DATETIME  DEFAULT CURRENT_TIMESTAMP,
    status      INTEGER   DEFAULT 0
);`, table)
}

// createLogTrigger bumps the master row's last-update timestamp on every
// insert into the session's log table.
func createLogTrigger(table string, id types.SessionID) string {
	return fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS trigger_%s
BEFORE INSERT ON %s
FOR EACH ROW
BEGIN
    UPDATE OR IGNORE table_master
    SET time_last_update = CURRENT_TIMESTAMP
    WHERE session_id = '%s';
END;`, id, table, id)
}

func insertMessage(table string) string {
	return fmt.Sprintf(`INSERT INTO %s(role, message, status) VALUES (?, ?, ?);`, table)
}

func selectMessages(table string) string {
	return fmt.Sprintf(`
SELECT logline, role, message, status, time_record
FROM %s WHERE status < ? ORDER BY logline ASC;`, table)
}

func dropLogTable(table string) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, table)
}

func dropLogTrigger(id types.SessionID) string {
	return fmt.Sprintf(`DROP TRIGGER IF EXISTS trigger_%s;`, id)
}
