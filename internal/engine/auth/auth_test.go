package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processline/internal/domain"
	"processline/internal/engine/auth"
)

func TestCanView(t *testing.T) {
	alice := auth.Actor{ID: "alice", Role: "ANALYST", DepartmentID: "finance"}

	cases := []struct {
		name string
		res  auth.Resource
		want bool
	}{
		{"public", auth.Resource{Visibility: domain.VisibilityPublic}, true},
		{"public lowercase", auth.Resource{Visibility: "public"}, true},
		{"roles match", auth.Resource{Visibility: domain.VisibilityRoles, AllowedRoles: []string{"ANALYST"}}, true},
		{"roles miss", auth.Resource{Visibility: domain.VisibilityRoles, AllowedRoles: []string{"MANAGER"}}, false},
		{"roles empty", auth.Resource{Visibility: domain.VisibilityRoles}, false},
		{"roles ignores user list", auth.Resource{Visibility: domain.VisibilityRoles, AllowedUsers: []string{"alice"}}, false},
		{"users match", auth.Resource{Visibility: domain.VisibilityUsers, AllowedUsers: []string{"bob", "alice"}}, true},
		{"users miss", auth.Resource{Visibility: domain.VisibilityUsers, AllowedUsers: []string{"bob"}}, false},
		{"users empty", auth.Resource{Visibility: domain.VisibilityUsers}, false},
		{"none denies", auth.Resource{Visibility: domain.VisibilityNone, AllowedRoles: []string{"ANALYST"}}, false},
		{"none with user allow-list", auth.Resource{Visibility: domain.VisibilityNone, AllowedUsers: []string{"alice"}}, true},
		{"unknown mode", auth.Resource{Visibility: "SECRET"}, false},
		{"unknown mode with user allow-list", auth.Resource{Visibility: "SECRET", AllowedUsers: []string{"alice"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, auth.CanView(tc.res, alice))
		})
	}
}

func TestCanViewEmptyRoleListDeniesEveryone(t *testing.T) {
	res := auth.Resource{Visibility: domain.VisibilityRoles, AllowedRoles: []string{}}
	for _, role := range []string{"ADMIN", "MANAGER", "ANALYST", ""} {
		assert.False(t, auth.CanView(res, auth.Actor{ID: "u", Role: role}), role)
	}
	withList := auth.Resource{Visibility: domain.VisibilityRoles, AllowedRoles: []string{"MANAGER"}}
	assert.True(t, auth.CanView(withList, auth.Actor{ID: "u", Role: "MANAGER"}))
}

func TestPolicyDepartmentAuthority(t *testing.T) {
	p := auth.Policy{PrivilegedRoles: []string{"ADMIN", "DIRECTOR"}}

	assert.True(t, p.HasDepartmentAuthority(auth.Actor{ID: "a", Role: "ADMIN"}, "legal"))
	assert.True(t, p.HasDepartmentAuthority(auth.Actor{ID: "d", Role: "DIRECTOR", DepartmentID: "hr"}, "legal"))
	assert.True(t, p.HasDepartmentAuthority(auth.Actor{ID: "u", Role: "USER", DepartmentID: "legal"}, "legal"))
	assert.False(t, p.HasDepartmentAuthority(auth.Actor{ID: "u", Role: "USER", DepartmentID: "hr"}, "legal"))
	assert.False(t, p.HasDepartmentAuthority(auth.Actor{ID: "u", Role: "USER"}, ""))
}

func TestDefaultPolicyPrivilegesAdmin(t *testing.T) {
	assert.True(t, auth.DefaultPolicy().IsPrivileged(auth.Actor{ID: "root", Role: "ADMIN"}))
	assert.True(t, auth.Policy{}.IsPrivileged(auth.Actor{ID: "root", Role: "ADMIN"}))
	assert.False(t, auth.Policy{}.IsPrivileged(auth.Actor{ID: "x", Role: "MANAGER"}))
}

func TestActorContext(t *testing.T) {
	_, ok := auth.ActorFrom(context.Background())
	require.False(t, ok)

	ctx := auth.WithActor(context.Background(), auth.Actor{ID: "alice", Role: "USER"})
	a, ok := auth.ActorFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", a.ID)
}
