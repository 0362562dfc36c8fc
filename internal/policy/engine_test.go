package policy

import (
	"context"
	"testing"

	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/kv"
)

func TestEvaluateOrder(t *testing.T) {
	ctx := context.Background()
	store := kv.NewLocalStore()
	bl := NewBlacklist(store, []string{"banned"}, []string{"g-banned"})
	e := NewDefaultEngine(config.AccessConfig{
		AdminUsers:     []string{"root"},
		AdminOnlyTools: []string{"note.delete"},
		GroupEnable:    []string{"weather.query", "note.delete"},
		GroupDisable:   []string{"Weather.Query"},
		PrivateDisable: []string{"image.generate"},
	}, bl)

	cases := []struct {
		name   string
		req    Request
		reason string
	}{
		{"static user blacklist", Request{Tool: "search.web", UserID: "banned", Scene: ScenePrivate}, ReasonUserBlacklisted},
		{"group blacklist", Request{Tool: "search.web", UserID: "u1", Scene: SceneGroup, GroupID: "g-banned"}, ReasonGroupBlacklisted},
		{"deny list beats allow list", Request{Tool: "weather.query", UserID: "u1", Scene: SceneGroup, GroupID: "g1"}, "tool disabled in group scene"},
		{"allow list is exclusive", Request{Tool: "search.web", UserID: "u1", Scene: SceneGroup, GroupID: "g1"}, "tool not enabled in group scene"},
		{"private unaffected by group allow list", Request{Tool: "search.web", UserID: "u1", Scene: ScenePrivate}, ""},
		{"private deny list", Request{Tool: "image.generate", UserID: "u1", Scene: ScenePrivate}, "tool disabled in private scene"},
		{"admin only denied", Request{Tool: "note.delete", UserID: "u1", Scene: SceneGroup, GroupID: "g1"}, ReasonAdminRequired},
		{"scene admin allowed", Request{Tool: "note.delete", UserID: "u1", Scene: SceneGroup, GroupID: "g1", IsSceneAdmin: true}, ""},
		{"global admin allowed", Request{Tool: "note.delete", UserID: "root", Scene: ScenePrivate}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Evaluate(ctx, tc.req)
			if tc.reason == "" {
				if !d.Allowed || d.Reason != "" {
					t.Fatalf("expected allow, got %+v", d)
				}
				return
			}
			if d.Allowed || d.Reason != tc.reason {
				t.Fatalf("expected deny %q, got %+v", tc.reason, d)
			}
		})
	}
}

func TestDynamicBlacklist(t *testing.T) {
	ctx := context.Background()
	store := kv.NewLocalStore()
	bl := NewBlacklist(store, nil, nil)
	e := NewDefaultEngine(config.AccessConfig{}, bl)

	if d := e.CanChat(ctx, "u1", "g1"); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
	if err := bl.AddUser(ctx, "u1", "spam"); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if d := e.CanChat(ctx, "u1", ""); d.Reason != ReasonUserBlacklisted {
		t.Fatalf("expected user blacklisted, got %+v", d)
	}
	if reason, _ := bl.UserReason(ctx, "u1"); reason != "spam" {
		t.Fatalf("expected reason spam, got %q", reason)
	}
	if err := bl.RemoveUser(ctx, "u1"); err != nil {
		t.Fatalf("remove user: %v", err)
	}
	if d := e.CanChat(ctx, "u1", ""); !d.Allowed {
		t.Fatalf("expected allow after removal, got %+v", d)
	}

	if err := bl.AddGroup(ctx, "g1", ""); err != nil {
		t.Fatalf("add group: %v", err)
	}
	if d := e.Evaluate(ctx, Request{Tool: "search.web", UserID: "u2", Scene: SceneGroup, GroupID: "g1"}); d.Reason != ReasonGroupBlacklisted {
		t.Fatalf("expected group blacklisted, got %+v", d)
	}
	if d := e.CanChat(ctx, "u2", ""); !d.Allowed {
		t.Fatalf("private chat should not consult group list, got %+v", d)
	}
	if err := bl.RemoveGroup(ctx, "g1"); err != nil {
		t.Fatalf("remove group: %v", err)
	}
	if d := e.CanChat(ctx, "u2", "g1"); !d.Allowed {
		t.Fatalf("expected allow after group removal, got %+v", d)
	}
}

func TestStaticOnlyBlacklistRejectsWrites(t *testing.T) {
	bl := NewBlacklist(nil, []string{"x"}, nil)
	if err := bl.AddUser(context.Background(), "y", ""); err == nil {
		t.Fatal("expected error without store")
	}
	blocked, err := bl.IsUserBlocked(context.Background(), "x")
	if err != nil || !blocked {
		t.Fatalf("expected static block, got %v %v", blocked, err)
	}
}
