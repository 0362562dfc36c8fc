// Package policy provides tool execution authorization.
package policy

import (
	"context"
	"log/slog"

	"github.com/makobot/mako/internal/config"
)

// Scene is the conversational context kind.
type Scene string

const (
	SceneGroup   Scene = "group"
	ScenePrivate Scene = "private"
)

// Deny reasons.
const (
	ReasonUserBlacklisted  = "user is blacklisted"
	ReasonGroupBlacklisted = "group is blacklisted"
	ReasonAdminRequired    = "admin permission required"
)

// Request holds information about a pending tool execution.
type Request struct {
	Tool         string
	UserID       string
	Scene        Scene
	GroupID      string
	IsSceneAdmin bool
}

// Decision is the result of a policy evaluation. Reason is set only when
// Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the permitting decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a refusing decision.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Engine evaluates whether a tool execution should proceed.
type Engine interface {
	Evaluate(ctx context.Context, req Request) Decision
}

type sceneLists struct {
	enable  map[string]bool
	disable map[string]bool
}

// DefaultEngine checks, in order, the blacklist, the scene allow and deny
// lists, and the admin-only tool set.
type DefaultEngine struct {
	blacklist      *Blacklist
	admins         map[string]bool
	adminOnlyTools map[string]bool
	scenes         map[Scene]sceneLists
}

// NewDefaultEngine creates the engine from the access configuration.
// blacklist may be nil.
func NewDefaultEngine(cfg config.AccessConfig, blacklist *Blacklist) *DefaultEngine {
	return &DefaultEngine{
		blacklist:      blacklist,
		admins:         toSet(config.NormalizeIDs(cfg.AdminUsers)),
		adminOnlyTools: toSet(config.NormalizeNames(cfg.AdminOnlyTools)),
		scenes: map[Scene]sceneLists{
			SceneGroup: {
				enable:  toSet(config.NormalizeNames(cfg.GroupEnable)),
				disable: toSet(config.NormalizeNames(cfg.GroupDisable)),
			},
			ScenePrivate: {
				enable:  toSet(config.NormalizeNames(cfg.PrivateEnable)),
				disable: toSet(config.NormalizeNames(cfg.PrivateDisable)),
			},
		},
	}
}

// Evaluate decides whether req may run.
func (e *DefaultEngine) Evaluate(ctx context.Context, req Request) Decision {
	if d := e.CanChat(ctx, req.UserID, req.GroupID); !d.Allowed {
		return d
	}

	tool := config.NormalizeName(req.Tool)
	scene := req.Scene
	if scene != SceneGroup {
		scene = ScenePrivate
	}
	lists := e.scenes[scene]
	if lists.disable[tool] {
		return Deny("tool disabled in " + string(scene) + " scene")
	}
	if len(lists.enable) > 0 && !lists.enable[tool] {
		return Deny("tool not enabled in " + string(scene) + " scene")
	}

	if e.adminOnlyTools[tool] && !req.IsSceneAdmin && !e.admins[req.UserID] {
		return Deny(ReasonAdminRequired)
	}
	return Allow()
}

// CanChat applies only the blacklist. It runs before any processing of a
// message. A failing blacklist store is logged and treated as a miss.
func (e *DefaultEngine) CanChat(ctx context.Context, userID, groupID string) Decision {
	if e.blacklist == nil {
		return Allow()
	}
	if blocked, err := e.blacklist.IsUserBlocked(ctx, userID); err != nil {
		slog.Warn("Blacklist lookup failed", "user_id", userID, "error", err)
	} else if blocked {
		return Deny(ReasonUserBlacklisted)
	}
	if groupID == "" {
		return Allow()
	}
	if blocked, err := e.blacklist.IsGroupBlocked(ctx, groupID); err != nil {
		slog.Warn("Blacklist lookup failed", "group_id", groupID, "error", err)
	} else if blocked {
		return Deny(ReasonGroupBlacklisted)
	}
	return Allow()
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
