package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/errs"
)

func TestPermissionSetContains(t *testing.T) {
	granted := NewPermissionSet("fs.read", "fs.write")
	required := NewPermissionSet("fs.read")

	assert.True(t, granted.Contains(required))
	assert.False(t, granted.Contains(NewPermissionSet("fs.write", "net.dial")))
}

func TestPermissionSetEmptyRequiredAlwaysSatisfied(t *testing.T) {
	granted := NewPermissionSet()
	assert.True(t, granted.Contains(NewPermissionSet()))
}

func TestCheckPermissionsReturnsPermissionError(t *testing.T) {
	err := CheckPermissions("exec", NewPermissionSet("net.dial"), NewPermissionSet("fs.read"))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPermission, kind)
}

func TestCheckPermissionsSatisfied(t *testing.T) {
	err := CheckPermissions("read", NewPermissionSet("fs.read"), NewPermissionSet("fs.read", "fs.write"))
	assert.NoError(t, err)
}
