package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/policy"
)

type stubTool struct {
	name        string
	description string
	required    policy.PermissionSet
	validateErr error
	executed    int
}

func (s *stubTool) Name() string           { return s.name }
func (s *stubTool) Description() string    { return s.description }
func (s *stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Validate(json.RawMessage) error { return s.validateErr }

func (s *stubTool) RequiredPermissions(json.RawMessage) policy.PermissionSet {
	return s.required
}
func (s *stubTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*Result, error) {
	s.executed++
	return &Result{Content: "ok"}, nil
}

func TestExecuteUnknownToolReturnsNotFound(t *testing.T) {
	r := New(nil, nil)
	result, err := r.Execute(context.Background(), nil, "missing", nil)
	require.Error(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteRunsValidateThenPermissionThenExecute(t *testing.T) {
	r := New(nil, nil)
	tool := &stubTool{name: "exec", required: policy.NewPermissionSet("fs.exec")}
	r.Register(tool)

	_, err := r.Execute(context.Background(), &Context{Permissions: policy.NewPermissionSet()}, "exec", nil)
	require.Error(t, err)
	assert.Equal(t, 0, tool.executed)

	_, err = r.Execute(context.Background(), &Context{Permissions: policy.NewPermissionSet("fs.exec")}, "exec", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tool.executed)
}

func TestExecuteValidationFailureSkipsExecute(t *testing.T) {
	r := New(nil, nil)
	tool := &stubTool{name: "write", validateErr: assertErr("bad params")}
	r.Register(tool)

	result, err := r.Execute(context.Background(), &Context{}, "write", nil)
	require.Error(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, tool.executed)
}

func TestExecuteRespectsToggleDisable(t *testing.T) {
	toggles, err := policy.NewToggleStore(filepath.Join(t.TempDir(), "toggles.json"))
	require.NoError(t, err)
	require.NoError(t, toggles.SetToolEnabled("exec", false))

	r := New(nil, toggles)
	r.Register(&stubTool{name: "exec"})

	result, err := r.Execute(context.Background(), &Context{}, "exec", nil)
	require.Error(t, err)
	assert.True(t, result.IsError)
}

func TestListFiltersDisabledAndDeniedTools(t *testing.T) {
	toggles, err := policy.NewToggleStore(filepath.Join(t.TempDir(), "toggles.json"))
	require.NoError(t, err)
	require.NoError(t, toggles.SetToolEnabled("sandbox", false))

	r := New(nil, toggles)
	r.Register(&stubTool{name: "read", description: "read a file"})
	r.Register(&stubTool{name: "sandbox", description: "run code"})
	r.Register(&stubTool{name: "exec", description: "run a shell command"})

	p := policy.NewPolicy("").WithAllow("read")
	infos := r.List(p)
	assert.Len(t, infos, 1)
	assert.Equal(t, "read", infos[0].Name)
}

func TestFullSchemaReturnsRequestedTools(t *testing.T) {
	r := New(nil, nil)
	r.Register(&stubTool{name: "read"})
	r.Register(&stubTool{name: "write"})

	full := r.FullSchema([]string{"read", "missing"})
	require.Len(t, full, 1)
	assert.Equal(t, "read", full[0].Name)
	assert.NotEmpty(t, full[0].Schema)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
