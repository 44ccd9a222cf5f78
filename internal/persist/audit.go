package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldbus-sim/rtusim/internal/events"
)

// AuditLog is a sqlite-backed record of every event the hub ever
// broadcast, for after-the-fact investigation of what a master did to a
// device. It implements events.Sink.
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (creating if necessary) the sqlite database at path
// and ensures its schema exists.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit log: open %s: %w", path, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		device_id INTEGER,
		message TEXT,
		data TEXT,
		occurred_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_device ON events(device_id);
	CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit log: create schema: %w", err)
	}

	return &AuditLog{db: db}, nil
}

// Publish implements events.Sink. Failures are not fatal to the caller;
// the audit log is a best-effort record, not the system of truth.
func (a *AuditLog) Publish(ev events.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}

	var deviceID sql.NullInt64
	if ev.DeviceID != nil {
		deviceID = sql.NullInt64{Int64: int64(*ev.DeviceID), Valid: true}
	}

	_, _ = a.db.Exec(
		`INSERT OR IGNORE INTO events (id, kind, severity, device_id, message, data, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), string(ev.Severity), deviceID, ev.Message, string(data), ev.Timestamp,
	)
}

// Recent returns the most recent n audit rows for id, newest first.
func (a *AuditLog) Recent(id uint16, n int) ([]events.Event, error) {
	rows, err := a.db.Query(
		`SELECT id, kind, severity, message, data, occurred_at FROM events
		 WHERE device_id = ? ORDER BY occurred_at DESC LIMIT ?`,
		id, n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit log: query: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var kind, severity string
		var data string
		if err := rows.Scan(&ev.ID, &kind, &severity, &ev.Message, &data, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("audit log: scan: %w", err)
		}
		ev.Kind = events.Kind(kind)
		ev.Severity = events.Severity(severity)
		ev.DeviceID = &id
		_ = json.Unmarshal([]byte(data), &ev.Data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
