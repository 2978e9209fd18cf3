package versioning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotAndRollback(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v1, err := store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte("echo v1")}, CreatedByEvolution, "initial", now)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte("echo v2")}, CreatedByEvolution, "update", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 1, v2.ParentVersion)

	h, err := store.LoadHistory("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 2, h.Current)
	assert.Len(t, h.Versions, 2)

	active, err := store.Rollback("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 1, active)

	content, err := store.ReadFile("test.echo", 1, "cap.sh")
	require.NoError(t, err)
	assert.Equal(t, "echo v1", string(content))

	h, err = store.LoadHistory("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Current)
	assert.Len(t, h.Versions, 1)
}

func TestRollbackToNoPreviousRemovesCapability(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte("echo v1")}, CreatedByManual, "", time.Now())
	require.NoError(t, err)

	active, err := store.Rollback("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	h, err := store.LoadHistory("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Current)
	assert.Empty(t, h.Versions)
}

func TestRollbackWithNoVersionsFails(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Rollback("never.existed")
	assert.Error(t, err)
}

func TestCleanupOldVersionsKeepsNewest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte{byte(i)}}, CreatedByManual, "", time.Now())
		require.NoError(t, err)
	}

	require.NoError(t, store.CleanupOldVersions("test.echo", 2))

	h, err := store.LoadHistory("test.echo")
	require.NoError(t, err)
	require.Len(t, h.Versions, 2)
	assert.Equal(t, 4, h.Versions[0].Version)
	assert.Equal(t, 5, h.Versions[1].Version)
}

func TestSwitchToVersionVerifiesHash(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte("v1")}, CreatedByManual, "", time.Now())
	require.NoError(t, err)
	_, err = store.Snapshot("test.echo", map[string][]byte{"cap.sh": []byte("v2")}, CreatedByManual, "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.SwitchToVersion("test.echo", 1))
	h, err := store.LoadHistory("test.echo")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Current)
}
