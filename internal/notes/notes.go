// Package notes stores per-user notes in SQLite and mirrors them into the
// recall corpus.
package notes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Note is one stored note.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Indexer receives note text for long-term recall.
type Indexer interface {
	Add(ctx context.Context, text string) error
}

// Service is the notes store.
type Service struct {
	db      *sql.DB
	indexer Indexer
	now     func() time.Time
}

// NewService creates a Service on db (see timeline.Schema). indexer may be nil.
func NewService(db *sql.DB, indexer Indexer) *Service {
	return &Service{db: db, indexer: indexer, now: time.Now}
}

func newNoteID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Add stores a note.
func (s *Service) Add(ctx context.Context, userID, title, content, category string) (*Note, error) {
	if category == "" {
		category = "default"
	}
	now := s.now().UTC()
	n := &Note{ID: newNoteID(), UserID: userID, Title: title, Content: content, Category: category, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx, `INSERT INTO notes (note_id, user_id, title, content, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, n.ID, n.UserID, n.Title, n.Content, n.Category, now, now)
	if err != nil {
		return nil, fmt.Errorf("notes: add: %w", err)
	}
	s.index(ctx, n)
	return n, nil
}

// List returns the user's notes, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]Note, error) {
	return s.query(ctx, `SELECT note_id, user_id, title, content, category, created_at, updated_at
		FROM notes WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC`, userID)
}

// Search returns notes whose title or content contains keyword
// (case-insensitive), most recently updated first.
func (s *Service) Search(ctx context.Context, userID, keyword string) ([]Note, error) {
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	return s.query(ctx, `SELECT note_id, user_id, title, content, category, created_at, updated_at
		FROM notes WHERE user_id = ? AND (lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\')
		ORDER BY updated_at DESC, created_at DESC`, userID, pattern, pattern)
}

// Delete removes the note whose id equals ref, or else the newest note whose
// title or content contains ref. It reports whether a note was removed.
func (s *Service) Delete(ctx context.Context, userID, ref string) (bool, error) {
	target, err := s.resolve(ctx, userID, ref, true)
	if err != nil || target == nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE user_id = ? AND note_id = ?`, userID, target.ID)
	if err != nil {
		return false, fmt.Errorf("notes: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Update replaces the content of the note whose id equals ref, or else the
// newest note whose title contains ref. It returns nil when nothing matched.
func (s *Service) Update(ctx context.Context, userID, ref, content string) (*Note, error) {
	target, err := s.resolve(ctx, userID, ref, false)
	if err != nil || target == nil {
		return nil, err
	}
	target.Content = content
	target.UpdatedAt = s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE notes SET content = ?, updated_at = ? WHERE user_id = ? AND note_id = ?`,
		target.Content, target.UpdatedAt, userID, target.ID); err != nil {
		return nil, fmt.Errorf("notes: update: %w", err)
	}
	s.index(ctx, target)
	return target, nil
}

func (s *Service) resolve(ctx context.Context, userID, ref string, matchContent bool) (*Note, error) {
	if ref == "" {
		return nil, nil
	}
	all, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == ref {
			return &all[i], nil
		}
	}
	for i := range all {
		if strings.Contains(all[i].Title, ref) || (matchContent && strings.Contains(all[i].Content, ref)) {
			return &all[i], nil
		}
	}
	return nil, nil
}

func (s *Service) query(ctx context.Context, q string, args ...any) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("notes: query: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.Category, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Service) index(ctx context.Context, n *Note) {
	if s.indexer == nil {
		return
	}
	_ = s.indexer.Add(ctx, fmt.Sprintf("[note:%s:%s] %s %s", n.UserID, n.ID, n.Title, n.Content))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
