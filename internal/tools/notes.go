package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/makobot/mako/internal/notes"
)

// NoteStore is the subset of notes.Service the note tools use.
type NoteStore interface {
	Add(ctx context.Context, userID, title, content, category string) (*notes.Note, error)
	List(ctx context.Context, userID string) ([]notes.Note, error)
	Search(ctx context.Context, userID, keyword string) ([]notes.Note, error)
	Delete(ctx context.Context, userID, ref string) (bool, error)
	Update(ctx context.Context, userID, ref, content string) (*notes.Note, error)
}

// NoteTool implements the four note.* tools over one store.
type NoteTool struct {
	name  string
	store NoteStore
}

// NewNoteTools returns note.add, note.query, note.delete and note.update.
func NewNoteTools(store NoteStore) []Tool {
	names := []string{NoteAdd, NoteQuery, NoteDelete, NoteUpdate}
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		out = append(out, &NoteTool{name: n, store: store})
	}
	return out
}

func (t *NoteTool) Name() string { return t.name }

func (t *NoteTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.store == nil {
		return Outcome{}, &NotConfiguredError{What: "note store"}
	}
	switch t.name {
	case NoteAdd:
		content := call.Arg("content", call.Text)
		n, err := t.store.Add(ctx, call.UserID, call.Arg("title", "未命名笔记"), content, call.Arg("category", ""))
		if err != nil {
			return Outcome{}, err
		}
		return Fact("笔记已记录: %s《%s》", n.ID, n.Title), nil

	case NoteQuery:
		keyword := call.Arg("keyword", "")
		var (
			found []notes.Note
			err   error
		)
		if keyword == "" {
			found, err = t.store.List(ctx, call.UserID)
		} else {
			found, err = t.store.Search(ctx, call.UserID, keyword)
		}
		if err != nil {
			return Outcome{}, err
		}
		if len(found) == 0 {
			return Fact("笔记查询: 没有匹配内容。"), nil
		}
		if len(found) > 5 {
			found = found[:5]
		}
		var b strings.Builder
		b.WriteString("笔记查询结果:")
		for _, n := range found {
			fmt.Fprintf(&b, "\n- %s | %s | %s", n.ID, n.Title, truncate(n.Content, 50))
		}
		return Outcome{Facts: []string{b.String()}}, nil

	case NoteDelete:
		ok, err := t.store.Delete(ctx, call.UserID, call.Arg("keyword", ""))
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Fact("笔记删除失败: 未找到目标。"), nil
		}
		return Fact("笔记删除成功。"), nil

	case NoteUpdate:
		n, err := t.store.Update(ctx, call.UserID, call.Arg("keyword", ""), call.Arg("content", ""))
		if err != nil {
			return Outcome{}, err
		}
		if n == nil {
			return Fact("笔记更新失败: 未找到目标。"), nil
		}
		return Fact("笔记更新成功: %s《%s》", n.ID, n.Title), nil
	}
	return Outcome{}, ErrUnsupported
}
