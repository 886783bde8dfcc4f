package permission

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/apperr"
	"github.com/keyfold/keyfold/internal/database"
)

// mockProjectRepo implements only GetRole; the rest of the interface panics if
// reached.
type mockProjectRepo struct {
	database.ProjectRepository
	roles map[string]database.MembershipRole
}

func (m *mockProjectRepo) GetRole(_ context.Context, projectID uuid.UUID, userID string) (database.MembershipRole, error) {
	role, ok := m.roles[projectID.String()+"/"+userID]
	if !ok {
		return "", database.ErrNotFound
	}
	return role, nil
}

func TestCheckRoleMatrix(t *testing.T) {
	projectID := uuid.New()
	repo := &mockProjectRepo{roles: map[string]database.MembershipRole{
		projectID.String() + "/admin":  database.RoleAdmin,
		projectID.String() + "/member": database.RoleMember,
		projectID.String() + "/viewer": database.RoleViewer,
	}}
	svc := NewService(repo)

	cases := []struct {
		user    string
		action  Action
		allowed bool
	}{
		{"admin", ActionRead, true},
		{"admin", ActionCreate, true},
		{"admin", ActionDelete, true},
		{"member", ActionRead, true},
		{"member", ActionCreate, true},
		{"member", ActionEdit, true},
		{"member", ActionDelete, false},
		{"viewer", ActionRead, true},
		{"viewer", ActionCreate, false},
		{"viewer", ActionEdit, false},
		{"viewer", ActionDelete, false},
	}
	for _, tc := range cases {
		err := svc.Check(context.Background(), Actor{ID: tc.user}, tc.action, SubjectSecretImports, projectID)
		if tc.allowed {
			assert.NoError(t, err, "%s %s", tc.user, tc.action)
		} else {
			assert.True(t, apperr.IsForbidden(err), "%s %s", tc.user, tc.action)
		}
	}
}

func TestCheckNonMemberForbidden(t *testing.T) {
	svc := NewService(&mockProjectRepo{roles: map[string]database.MembershipRole{}})

	err := svc.Check(context.Background(), Actor{ID: "stranger"}, ActionRead, SubjectSecrets, uuid.New())
	assert.True(t, apperr.IsForbidden(err))
}

func TestCheckScopedActor(t *testing.T) {
	svc := NewService(&mockProjectRepo{roles: map[string]database.MembershipRole{}})
	projectID := uuid.New()

	actor := Actor{ID: "kf_key", ScopedProject: projectID, ScopedRole: database.RoleMember}

	require.NoError(t, svc.Check(context.Background(), actor, ActionCreate, SubjectSecrets, projectID))

	err := svc.Check(context.Background(), actor, ActionRead, SubjectSecrets, uuid.New())
	assert.True(t, apperr.IsForbidden(err))
}
