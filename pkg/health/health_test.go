package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

type fakeRequester struct {
	mu       sync.Mutex
	checks   []string
	recovers []string
}

func (f *fakeRequester) ClusterCheck(clusterID string, params map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, clusterID)
	return "action-" + clusterID, nil
}

func (f *fakeRequester) NodeRecover(nodeID string, params map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers = append(f.recovers, nodeID)
	return "action-" + nodeID, nil
}

func (f *fakeRequester) checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checks...)
}

func (f *fakeRequester) recovered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.recovers...)
}

func newTestManager(t *testing.T) (*Manager, *fakeRequester, *storage.BoltStore, *events.Broker) {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	req := &fakeRequester{}
	cfg := config.Default()
	m := NewManager(s, broker, req, cfg, "engine-1")
	return m, req, s, broker
}

func TestRegisterCreatesRegistryRow(t *testing.T) {
	m, _, s, _ := newTestManager(t)

	err := m.Register("c1", types.LifecycleEvents, 60, map[string]interface{}{"operation": "recreate"})
	require.NoError(t, err)

	r, err := s.GetRegistryByCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, types.LifecycleEvents, r.CheckType)
	assert.Equal(t, "engine-1", r.EngineID)
	assert.True(t, r.Enabled)

	// Double registration is rejected.
	err = m.Register("c1", types.LifecycleEvents, 60, nil)
	assert.Error(t, err)

	require.NoError(t, m.Unregister("c1"))
	_, err = s.GetRegistryByCluster("c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDisableKeepsRowEnableRestores(t *testing.T) {
	m, _, s, _ := newTestManager(t)
	require.NoError(t, m.Register("c1", types.LifecycleEvents, 60, nil))

	require.NoError(t, m.Disable("c1"))
	r, err := s.GetRegistryByCluster("c1")
	require.NoError(t, err)
	assert.False(t, r.Enabled)

	require.NoError(t, m.Enable("c1"))
	r, err = s.GetRegistryByCluster("c1")
	require.NoError(t, err)
	assert.True(t, r.Enabled)
}

func TestPollerIssuesClusterChecks(t *testing.T) {
	m, req, _, _ := newTestManager(t)
	// Shrink the interval cap so the poller fires fast enough to observe.
	m.cfg.PeriodicIntervalMax = 1
	defer m.Stop()

	require.NoError(t, m.Register("c1", types.NodeStatusPolling, 1, nil))

	require.Eventually(t, func() bool {
		return len(req.checked()) >= 1
	}, 10*time.Second, 10*time.Millisecond)
	assert.Contains(t, req.checked(), "c1")
}

func TestLifecycleEventTriggersRecovery(t *testing.T) {
	m, req, s, broker := newTestManager(t)
	require.NoError(t, s.CreateNode(&types.Node{
		ID:        "n1",
		ClusterID: "c1",
		Status:    types.NodeStatusActive,
	}))
	require.NoError(t, m.Register("c1", types.LifecycleEvents, 60, nil))
	m.Start()
	defer m.Stop()

	broker.Publish(&events.Event{
		Type:     events.EventNodePowerOff,
		Metadata: map[string]string{"node_id": "n1"},
	})

	require.Eventually(t, func() bool {
		return len(req.recovered()) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"n1"}, req.recovered())
}

func TestLifecycleEventIgnoredWhenDisabled(t *testing.T) {
	m, req, s, broker := newTestManager(t)
	require.NoError(t, s.CreateNode(&types.Node{
		ID:        "n1",
		ClusterID: "c1",
		Status:    types.NodeStatusActive,
	}))
	require.NoError(t, m.Register("c1", types.LifecycleEvents, 60, nil))
	require.NoError(t, m.Disable("c1"))
	m.Start()
	defer m.Stop()

	broker.Publish(&events.Event{
		Type:     events.EventNodePowerOff,
		Metadata: map[string]string{"node_id": "n1"},
	})

	// Give the listener time to (not) act.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, req.recovered())
}

func TestClaimStopsPollerForLostRegistry(t *testing.T) {
	m, req, s, _ := newTestManager(t)
	m.cfg.PeriodicIntervalMax = 1
	defer m.Stop()

	require.NoError(t, m.Register("c1", types.NodeStatusPolling, 1, nil))
	require.Eventually(t, func() bool {
		return len(req.checked()) >= 1
	}, 10*time.Second, 10*time.Millisecond)

	// A live engine takes the row over; the reclaim pass must stop the
	// local poller instead of polling a cluster it no longer owns.
	require.NoError(t, s.EngineHeartbeat(&types.Engine{
		ID:        "engine-9",
		UpdatedAt: time.Now().UTC(),
	}))
	r, err := s.GetRegistryByCluster("c1")
	require.NoError(t, err)
	r.EngineID = "engine-9"
	require.NoError(t, s.UpdateRegistry(r))
	m.claim()

	// Let any in-flight tick settle before taking the baseline.
	time.Sleep(100 * time.Millisecond)
	before := len(req.checked())
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, before, len(req.checked()))
}

func TestClaimTakesOverOrphanedRegistries(t *testing.T) {
	m, _, s, _ := newTestManager(t)

	// A registry owned by an engine that never heartbeated.
	require.NoError(t, s.CreateRegistry(&types.HealthRegistry{
		ID:        "r1",
		ClusterID: "c1",
		CheckType: types.LifecycleEvents,
		Interval:  60,
		EngineID:  "engine-dead",
		Enabled:   true,
	}))

	m.claim()

	r, err := s.GetRegistryByCluster("c1")
	require.NoError(t, err)
	assert.Equal(t, "engine-1", r.EngineID)
}
