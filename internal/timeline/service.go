// Package timeline owns the SQLite database shared by the tool attempt log,
// the chat record feed, notes and the recall corpus.
package timeline

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Service wraps the database handle.
type Service struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(dbPath string) (*Service, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

// DB exposes the handle to the notes and recall stores.
func (s *Service) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Service) Close() error { return s.db.Close() }

// RecordAttempt appends one attempt to the log.
func (s *Service) RecordAttempt(rec *AttemptRecord) error {
	_, err := s.db.Exec(`INSERT INTO tool_attempts (trace_id, tool, user_id, scene, group_id, status, reason, cost, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Tool, rec.UserID, rec.Scene, rec.GroupID, rec.Status, rec.Reason, rec.Cost, rec.DurationMs)
	return err
}

// ListAttempts returns the newest attempts, optionally for one user.
func (s *Service) ListAttempts(userID string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, COALESCE(trace_id,''), tool, COALESCE(user_id,''), COALESCE(scene,''),
		COALESCE(group_id,''), status, COALESCE(reason,''), cost, duration_ms, created_at
		FROM tool_attempts`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.Tool, &r.UserID, &r.Scene,
			&r.GroupID, &r.Status, &r.Reason, &r.Cost, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordChat appends one line to the chat feed. A zero CreatedAt is stamped
// with the current time.
func (s *Service) RecordChat(rec *ChatRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO chat_records (user_id, nickname, group_id, role, content, created_unix)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Nickname, rec.GroupID, rec.Role, rec.Content, rec.CreatedAt.Unix())
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// RecentChats returns feed lines created at or after since, oldest first.
// limit <= 0 returns every line in the window.
func (s *Service) RecentChats(since time.Time, limit int) ([]ChatRecord, error) {
	query := `SELECT id, user_id, COALESCE(nickname,''), COALESCE(group_id,''), role, content, created_unix
		FROM chat_records WHERE created_unix >= ? ORDER BY created_unix, id`
	args := []any{since.Unix()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatRecord
	for rows.Next() {
		var (
			r    ChatRecord
			unix int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Nickname, &r.GroupID, &r.Role, &r.Content, &unix); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(unix, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
