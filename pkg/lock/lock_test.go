package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

func newManager(t *testing.T, engineID string) (*Manager, *storage.BoltStore) {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := New(s, engineID, 2, time.Millisecond, time.Minute)
	m.sleep = func(time.Duration) {}
	return m, s
}

func TestAcquireClusterUncontended(t *testing.T) {
	m, s := newManager(t, "e1")

	require.NoError(t, m.AcquireCluster("c1", "a1", types.LockExclusive))

	owners, err := s.ClusterLockOwners("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, owners)
}

func TestAcquireClusterContentionExhaustsRetries(t *testing.T) {
	m, s := newManager(t, "e1")

	// Holder is owned by a live engine.
	now := time.Now().UTC()
	require.NoError(t, s.EngineHeartbeat(&types.Engine{ID: "e2", UpdatedAt: now}))
	holder := &types.Action{ID: "a1", Target: "c1", Action: types.ClusterCreate,
		Owner: "e2", Status: types.ActionStatusRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAction(holder))
	require.NoError(t, s.ClusterLockAcquire("c1", "a1", types.LockExclusive))

	err := m.AcquireCluster("c1", "a2", types.LockExclusive)
	assert.ErrorIs(t, err, storage.ErrLockContention)
}

func TestAcquireClusterStealsFromDeadEngine(t *testing.T) {
	m, s := newManager(t, "e1")

	now := time.Now().UTC()
	require.NoError(t, s.EngineHeartbeat(&types.Engine{ID: "e2", UpdatedAt: now.Add(-time.Hour)}))
	holder := &types.Action{ID: "a1", Target: "c1", Action: types.ClusterCreate,
		Owner: "e2", Status: types.ActionStatusRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAction(holder))
	require.NoError(t, s.ClusterLockAcquire("c1", "a1", types.LockExclusive))

	require.NoError(t, m.AcquireCluster("c1", "a2", types.LockExclusive))

	owners, err := s.ClusterLockOwners("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, owners)
}

func TestAcquireClusterDoesNotStealFromOwnEngine(t *testing.T) {
	m, s := newManager(t, "e1")

	now := time.Now().UTC()
	holder := &types.Action{ID: "a1", Target: "c1", Action: types.ClusterCreate,
		Owner: "e1", Status: types.ActionStatusRunning, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateAction(holder))
	require.NoError(t, s.ClusterLockAcquire("c1", "a1", types.LockExclusive))

	err := m.AcquireCluster("c1", "a2", types.LockExclusive)
	assert.ErrorIs(t, err, storage.ErrLockContention)
}

func TestAcquireNodeStealsWhenHolderGone(t *testing.T) {
	m, s := newManager(t, "e1")

	// The holding action no longer exists at all.
	require.NoError(t, s.NodeLockAcquire("n1", "ghost"))

	require.NoError(t, m.AcquireNode("n1", "a2"))

	owners, err := s.NodeLockOwners("n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, owners)
}

func TestSharedAcquireAlongsideShared(t *testing.T) {
	m, _ := newManager(t, "e1")

	require.NoError(t, m.AcquireCluster("c1", "a1", types.LockShared))
	require.NoError(t, m.AcquireCluster("c1", "a2", types.LockShared))
	require.NoError(t, m.ReleaseCluster("c1", "a1", types.LockShared))
	require.NoError(t, m.ReleaseCluster("c1", "a2", types.LockShared))
	require.NoError(t, m.AcquireCluster("c1", "a3", types.LockExclusive))
}
