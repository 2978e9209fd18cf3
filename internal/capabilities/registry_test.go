package capabilities

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/internal/versioning"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := New(filepath.Join(dir, "artifacts"), filepath.Join(dir, "versions"))
	require.NoError(t, err)
	return r
}

func TestPublishRegistersAndMakesAvailable(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Now()

	d, err := r.Publish("test.echo", ProviderScript, "echo.sh", []byte("#!/bin/sh\ncat\n"), nil, versioning.CreatedByManual, "initial", now)
	require.NoError(t, err)
	assert.Equal(t, 1, d.CurrentVersion)
	assert.True(t, r.IsAvailable("test.echo"))
}

func TestExecuteScriptCapability(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Publish("test.echo", ProviderScript, "echo.sh", []byte("#!/bin/sh\ncat\n"), nil, versioning.CreatedByManual, "", time.Now())
	require.NoError(t, err)

	out, err := r.Execute(context.Background(), "test.echo", "hello", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecuteUnregisteredCapabilityFails(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "missing.thing", "x", time.Second)
	assert.Error(t, err)
}

func TestRollbackRestoresPreviousVersion(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Publish("test.echo", ProviderScript, "echo.sh", []byte("#!/bin/sh\necho v1\n"), nil, versioning.CreatedByEvolution, "v1", time.Now())
	require.NoError(t, err)
	_, err = r.Publish("test.echo", ProviderScript, "echo.sh", []byte("#!/bin/sh\necho v2\n"), nil, versioning.CreatedByEvolution, "v2", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Rollback("test.echo"))

	d, ok := r.Get("test.echo")
	require.True(t, ok)
	assert.Equal(t, 1, d.CurrentVersion)

	content, err := os.ReadFile(filepath.Join(r.artifactDir, "echo.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "v1")
}

func TestRollbackToNoPreviousRemovesCapability(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Publish("test.echo", ProviderScript, "echo.sh", []byte("#!/bin/sh\ncat\n"), nil, versioning.CreatedByManual, "", time.Now())
	require.NoError(t, err)

	require.NoError(t, r.Rollback("test.echo"))
	assert.False(t, r.IsAvailable("test.echo"))

	_, err = os.Stat(filepath.Join(r.artifactDir, "echo.sh"))
	assert.True(t, os.IsNotExist(err))
}
