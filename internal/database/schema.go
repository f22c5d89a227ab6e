package database

import (
	"database/sql"
	"fmt"
)

// Archive schema. Created on open; the archive is write-behind history, so
// there is no migration tracking beyond CREATE IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	group_id     TEXT NOT NULL,
	owner_id     TEXT NOT NULL,
	topic        TEXT NOT NULL,
	venue        TEXT,
	anchor_lat   REAL,
	anchor_lon   REAL,
	radius_m     REAL,
	start_time   DATETIME NOT NULL,
	duration_min REAL NOT NULL,
	active       INTEGER NOT NULL,
	notify_owner INTEGER NOT NULL,
	roster       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sign_ins (
	session_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	signed_in_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, user_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	session_id TEXT,
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_group ON sessions(group_id);
CREATE INDEX IF NOT EXISTS idx_sign_ins_session ON sign_ins(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
`

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply archive schema: %w", err)
	}
	return nil
}
