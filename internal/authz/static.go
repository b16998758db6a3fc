package authz

import (
	"context"
	"strings"

	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

// StaticResolver is a fixed-answer Resolver for unit tests and for wiring
// handlers before real session state exists.
type StaticResolver struct {
	Granted    []string
	Modules    []string
	ActiveRole *session.Role
}

// HasPermission reports membership in Granted.
func (s *StaticResolver) HasPermission(ctx context.Context, permission string) bool {
	for _, p := range s.Granted {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAnyPermission quantifies over Granted; empty input returns false.
func (s *StaticResolver) HasAnyPermission(ctx context.Context, permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	for _, p := range permissions {
		if s.HasPermission(ctx, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions quantifies over Granted; empty input returns false.
func (s *StaticResolver) HasAllPermissions(ctx context.Context, permissions []string) bool {
	if len(permissions) == 0 {
		return false
	}
	for _, p := range permissions {
		if !s.HasPermission(ctx, p) {
			return false
		}
	}
	return true
}

// HasModuleAccess checks Modules first, then permission prefixes.
func (s *StaticResolver) HasModuleAccess(ctx context.Context, module string) bool {
	for _, m := range s.Modules {
		if m == module {
			return true
		}
	}
	prefix := module + ":"
	for _, p := range s.Granted {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Role returns ActiveRole.
func (s *StaticResolver) Role(ctx context.Context) (*session.Role, bool) {
	return s.ActiveRole, s.ActiveRole != nil
}

// Permissions returns Granted.
func (s *StaticResolver) Permissions(ctx context.Context) []string {
	return s.Granted
}

var _ Resolver = (*StaticResolver)(nil)
