package auth

import (
	"context"
	"slices"
	"strings"

	"processline/internal/domain"
)

// DefaultPrivilegedRole is unconstrained by department when no policy is configured.
const DefaultPrivilegedRole = "ADMIN"

// Actor is the identity context supplied with every engine call.
type Actor struct {
	ID           string `json:"id"`
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
}

// Resource is anything carrying a visibility scope: documents and trash items.
type Resource struct {
	Visibility   string
	AllowedRoles []string
	AllowedUsers []string
}

func DocumentResource(d domain.Document) Resource {
	return Resource{Visibility: d.Visibility, AllowedRoles: d.AllowedRoles, AllowedUsers: d.AllowedUsers}
}

func TrashResource(t domain.TrashItem) Resource {
	return Resource{Visibility: t.Visibility, AllowedRoles: t.AllowedRoles, AllowedUsers: t.AllowedUsers}
}

// CanView reports whether the actor may see the resource. Unknown visibility
// modes are treated like NONE: only an explicit user allow-list entry grants access.
func CanView(r Resource, a Actor) bool {
	switch strings.ToUpper(strings.TrimSpace(r.Visibility)) {
	case domain.VisibilityPublic:
		return true
	case domain.VisibilityRoles:
		return len(r.AllowedRoles) > 0 && a.Role != "" && slices.Contains(r.AllowedRoles, a.Role)
	case domain.VisibilityUsers:
		return len(r.AllowedUsers) > 0 && a.ID != "" && slices.Contains(r.AllowedUsers, a.ID)
	default:
		return a.ID != "" && slices.Contains(r.AllowedUsers, a.ID)
	}
}

// ValidVisibility reports whether v is one of the known modes.
func ValidVisibility(v string) bool {
	switch v {
	case domain.VisibilityPublic, domain.VisibilityRoles, domain.VisibilityUsers, domain.VisibilityNone:
		return true
	}
	return false
}

// Policy holds the role configuration used for departmental authority.
type Policy struct {
	PrivilegedRoles []string
}

func DefaultPolicy() Policy {
	return Policy{PrivilegedRoles: []string{DefaultPrivilegedRole}}
}

func (p Policy) IsPrivileged(a Actor) bool {
	if a.Role == "" {
		return false
	}
	roles := p.PrivilegedRoles
	if len(roles) == 0 {
		roles = []string{DefaultPrivilegedRole}
	}
	return slices.Contains(roles, a.Role)
}

// HasDepartmentAuthority is true for privileged actors and for actors whose
// department is exactly departmentID.
func (p Policy) HasDepartmentAuthority(a Actor, departmentID string) bool {
	if p.IsPrivileged(a) {
		return true
	}
	return a.DepartmentID != "" && a.DepartmentID == departmentID
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}
