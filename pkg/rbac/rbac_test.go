package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasPermission(t *testing.T) {
	cases := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleViewer, PermissionReadProject, true},
		{RoleViewer, PermissionRecommendProject, true},
		{RoleViewer, PermissionWriteProject, false},
		{RoleEditor, PermissionWriteProject, true},
		{RoleEditor, PermissionReplayOutbox, false},
		{RoleAdmin, PermissionReplayOutbox, true},
		{"intruder", PermissionReadProject, false},
		{"", PermissionReadProject, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasPermission(tc.role, tc.permission), "%s/%s", tc.role, tc.permission)
	}
}

func TestCheckPermission(t *testing.T) {
	require.NoError(t, CheckPermission(RoleAdmin, PermissionWriteProject))

	err := CheckPermission(RoleViewer, PermissionWriteProject)
	var denied *PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, RoleViewer, denied.Role)
	assert.Equal(t, PermissionWriteProject, denied.Permission)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleViewer))
	assert.True(t, ValidRole(RoleEditor))
	assert.True(t, ValidRole(RoleAdmin))
	assert.False(t, ValidRole("root"))
}
