package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create support sessions and messages",
		SQL: `
			CREATE TABLE support_sessions (
				id              TEXT PRIMARY KEY,
				affiliate_id    TEXT NOT NULL,
				affiliate_name  TEXT NOT NULL DEFAULT '',
				affiliate_email TEXT NOT NULL DEFAULT '',
				subject         TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'waiting',
				priority        TEXT NOT NULL DEFAULT 'normal',
				created_at      TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_support_sessions_affiliate ON support_sessions (affiliate_id);
			CREATE INDEX idx_support_sessions_status ON support_sessions (status, updated_at);

			CREATE TABLE support_messages (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				session_id   TEXT NOT NULL,
				sender_type  TEXT NOT NULL,
				sender_name  TEXT NOT NULL DEFAULT '',
				content      TEXT NOT NULL,
				message_type TEXT NOT NULL DEFAULT 'text',
				timestamp    TEXT NOT NULL,
				FOREIGN KEY (session_id) REFERENCES support_sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_support_messages_session ON support_messages (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create client state",
		SQL: `
			CREATE TABLE client_state (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
}
