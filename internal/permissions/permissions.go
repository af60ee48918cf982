// Package permissions decides, per actor and field, whether a cue sheet mutation is allowed.
package permissions

import (
	"strings"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

// Role is the role descriptor supplied by the identity layer.
type Role struct {
	FullAccess bool `json:"isFullAccess"`
	Limited    bool `json:"isLimited"`
}

// Actor is the signed-in user an editor view acts for.
type Actor struct {
	UserID      string
	Email       string
	DisplayName string
	Role        Role
	Admin       bool
}

// Name returns the value stamped into updatedBy and log authorship.
func (a Actor) Name() string {
	for _, candidate := range []string{a.Email, a.DisplayName, a.UserID} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var limitedFields = map[cues.Field]struct{}{
	cues.FieldReference: {},
}

var derivedFields = map[cues.Field]struct{}{
	cues.FieldInterval: {},
	cues.FieldM:        {},
}

// Gate evaluates permissions for a single actor. The zero Gate has no actor and
// denies everything.
type Gate struct {
	actor           *Actor
	guestSimulation bool
}

// NewGate returns a gate for actor. A nil actor denies all mutations.
func NewGate(actor *Actor) Gate {
	if actor == nil {
		return Gate{}
	}
	copied := *actor
	return Gate{actor: &copied}
}

// WithGuestSimulation returns a copy of the gate with the debug override set. Only
// admins may simulate; the flag is ignored for everyone else.
func (g Gate) WithGuestSimulation(enabled bool) Gate {
	g.guestSimulation = enabled && g.actor != nil && g.actor.Admin
	return g
}

// GuestSimulation reports whether the override is active.
func (g Gate) GuestSimulation() bool {
	return g.guestSimulation
}

// SignedIn reports whether an actor is present.
func (g Gate) SignedIn() bool {
	return g.actor != nil
}

// Actor returns the actor, if any.
func (g Gate) Actor() (Actor, bool) {
	if g.actor == nil {
		return Actor{}, false
	}
	return *g.actor, true
}

// FullAccess reports the effective full-access role after the debug override.
func (g Gate) FullAccess() bool {
	return g.actor != nil && g.actor.Role.FullAccess && !g.guestSimulation
}

// Editable reports whether field can be edited in place by anyone. Fields outside
// the schema never are.
func Editable(field cues.Field) bool {
	if !field.Known() {
		return false
	}
	_, derived := derivedFields[field]
	return !derived
}

// CanEditField applies the gate rules in priority order: no actor denies, full
// access allows every editable field, anyone else is limited to the allow-list.
func (g Gate) CanEditField(field cues.Field) bool {
	if g.actor == nil || !Editable(field) {
		return false
	}
	if g.FullAccess() {
		return true
	}
	_, allowed := limitedFields[field]
	return allowed
}

// CanEditAll guards structural operations: add, delete, reorder, bulk mode, undo and
// project settings.
func (g Gate) CanEditAll() bool {
	return g.FullAccess()
}

// CanManageLog reports whether the actor may append to, archive, restore or delete
// entries of the given log. Director feedback is open to every signed-in user.
func (g Gate) CanManageLog(kind cues.LogKind) bool {
	if g.actor == nil {
		return false
	}
	if kind == cues.LogDirector {
		return true
	}
	return g.FullAccess()
}
