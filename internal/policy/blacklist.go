package policy

import (
	"context"
	"fmt"

	"github.com/makobot/mako/internal/kv"
)

const (
	blacklistUsersKey        = "blacklist:users"
	blacklistGroupsKey       = "blacklist:groups"
	blacklistUserReasonsKey  = "blacklist:users:reason"
	blacklistGroupReasonsKey = "blacklist:groups:reason"
)

// Blacklist combines the static configured lists with the dynamic sets kept
// in the KV store.
type Blacklist struct {
	store  kv.Store
	users  map[string]bool
	groups map[string]bool
}

// NewBlacklist creates a Blacklist. store may be nil for static lists only.
func NewBlacklist(store kv.Store, users, groups []string) *Blacklist {
	return &Blacklist{store: store, users: toSet(users), groups: toSet(groups)}
}

// IsUserBlocked reports whether userID is blacklisted.
func (b *Blacklist) IsUserBlocked(ctx context.Context, userID string) (bool, error) {
	return b.blocked(ctx, b.users, blacklistUsersKey, userID)
}

// IsGroupBlocked reports whether groupID is blacklisted.
func (b *Blacklist) IsGroupBlocked(ctx context.Context, groupID string) (bool, error) {
	return b.blocked(ctx, b.groups, blacklistGroupsKey, groupID)
}

func (b *Blacklist) blocked(ctx context.Context, static map[string]bool, key, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if static[id] {
		return true, nil
	}
	if b.store == nil {
		return false, nil
	}
	return b.store.SIsMember(ctx, key, id)
}

// AddUser blacklists userID with an optional reason.
func (b *Blacklist) AddUser(ctx context.Context, userID, reason string) error {
	return b.add(ctx, blacklistUsersKey, blacklistUserReasonsKey, userID, reason)
}

// RemoveUser lifts a dynamic user blacklist entry. Static entries stay.
func (b *Blacklist) RemoveUser(ctx context.Context, userID string) error {
	return b.remove(ctx, blacklistUsersKey, blacklistUserReasonsKey, userID)
}

// AddGroup blacklists groupID with an optional reason.
func (b *Blacklist) AddGroup(ctx context.Context, groupID, reason string) error {
	return b.add(ctx, blacklistGroupsKey, blacklistGroupReasonsKey, groupID, reason)
}

// RemoveGroup lifts a dynamic group blacklist entry.
func (b *Blacklist) RemoveGroup(ctx context.Context, groupID string) error {
	return b.remove(ctx, blacklistGroupsKey, blacklistGroupReasonsKey, groupID)
}

// UserReason returns the recorded reason for a dynamic user entry.
func (b *Blacklist) UserReason(ctx context.Context, userID string) (string, error) {
	if b.store == nil {
		return "", nil
	}
	v, _, err := b.store.HGet(ctx, blacklistUserReasonsKey, userID)
	return v, err
}

func (b *Blacklist) add(ctx context.Context, setKey, reasonKey, id, reason string) error {
	if b.store == nil {
		return fmt.Errorf("blacklist: no store configured")
	}
	if id == "" {
		return fmt.Errorf("blacklist: empty id")
	}
	return b.store.Tx(ctx, func(p kv.Pipe) error {
		p.SAdd(setKey, id)
		if reason != "" {
			p.HSet(reasonKey, id, reason)
		}
		return nil
	})
}

func (b *Blacklist) remove(ctx context.Context, setKey, reasonKey, id string) error {
	if b.store == nil {
		return fmt.Errorf("blacklist: no store configured")
	}
	return b.store.Tx(ctx, func(p kv.Pipe) error {
		p.SRem(setKey, id)
		p.HDel(reasonKey, id)
		return nil
	})
}
