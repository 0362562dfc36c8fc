package timeline

import "time"

// Schema creates the tables shared by the attempt log, the chat feed, notes
// and recall.
const Schema = `
CREATE TABLE IF NOT EXISTS tool_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	tool TEXT NOT NULL,
	user_id TEXT,
	scene TEXT,
	group_id TEXT,
	status TEXT NOT NULL,
	reason TEXT,
	cost REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_attempts_user ON tool_attempts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tool_attempts_trace ON tool_attempts(trace_id);

CREATE TABLE IF NOT EXISTS notes (
	note_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'default',
	visibility TEXT NOT NULL DEFAULT 'private',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id, updated_at);

CREATE TABLE IF NOT EXISTS memory_chunks (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	embedding BLOB,
	source TEXT NOT NULL DEFAULT 'chat',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_chunks_source ON memory_chunks(source);

CREATE TABLE IF NOT EXISTS chat_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	nickname TEXT,
	group_id TEXT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_records_created ON chat_records(created_unix);
`

// AttemptRecord is one dispatcher attempt.
type AttemptRecord struct {
	ID         int64     `json:"id"`
	TraceID    string    `json:"trace_id"`
	Tool       string    `json:"tool"`
	UserID     string    `json:"user_id"`
	Scene      string    `json:"scene"`
	GroupID    string    `json:"group_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Cost       float64   `json:"cost"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatRecord is one line of the global chat feed. Role is "user" or
// "assistant"; UserID names the user the exchange belongs to either way.
type ChatRecord struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	GroupID   string    `json:"group_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
