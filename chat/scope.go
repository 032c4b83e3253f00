package chat

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/model"
)

// Scope selects which rooms the viewer sees and whether they can write.
type Scope string

const (
	// ScopeMine lists the viewer's own rooms.
	ScopeMine Scope = "mine"
	// ScopeUsers lists rooms between regular users, observed read only.
	ScopeUsers Scope = "users"
	// ScopeStaff lists rooms with an administrator in them.
	ScopeStaff Scope = "staff"
)

// ParseScope converts a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeMine:
		return ScopeMine, nil
	case ScopeUsers:
		return ScopeUsers, nil
	case ScopeStaff:
		return ScopeStaff, nil
	}
	return "", errors.Wrapf(ErrValidation, "unknown scope %q", s)
}

// ReadOnly reports whether rooms in the scope are observed only.
func (s Scope) ReadOnly() bool {
	return s == ScopeUsers
}

// DefaultScope is the scope a viewer with role starts in.
func DefaultScope(role model.Role) Scope {
	if role.Privileged() {
		return ScopeUsers
	}
	return ScopeMine
}

// Allowed reports whether a viewer with role may select the scope.
func (s Scope) Allowed(role model.Role) bool {
	if role.Privileged() {
		return s == ScopeUsers || s == ScopeStaff
	}
	return s == ScopeMine
}

// Includes reports whether room belongs in the scope for viewer.
func (s Scope) Includes(room model.ChatRoom, viewer model.ID) bool {
	switch s {
	case ScopeMine:
		return room.Has(viewer)
	case ScopeUsers:
		return !room.HasPrivileged()
	case ScopeStaff:
		return room.HasPrivileged()
	default:
		return false
	}
}
