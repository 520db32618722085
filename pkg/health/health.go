package health

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/metrics"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Requester issues the engine operations the health manager triggers.
// Implemented by the engine service; injected to avoid a package cycle.
type Requester interface {
	// ClusterCheck creates a CLUSTER_CHECK action and returns its id.
	ClusterCheck(clusterID string, params map[string]interface{}) (string, error)
	// NodeRecover creates a NODE_RECOVER action and returns its id.
	NodeRecover(nodeID string, params map[string]interface{}) (string, error)
}

// lifecycleTriggers maps broker lifecycle events to the reason recorded
// on the recovery they trigger.
var lifecycleTriggers = map[events.EventType]string{
	events.EventNodeDelete:       "node deleted",
	events.EventNodePause:        "node paused",
	events.EventNodePowerOff:     "node powered off",
	events.EventNodeRebuildError: "node rebuild failed",
	events.EventNodeShutdown:     "node shut down",
	events.EventNodeSoftDelete:   "node soft-deleted",
}

// Manager runs the health activities of one engine: pollers for clusters
// enrolled with NODE_STATUS_POLLING and a lifecycle-event listener for
// the rest. Each registry row is claimed by exactly one engine; the
// claim loop takes over rows whose previous owner stopped heartbeating.
type Manager struct {
	store     storage.Store
	broker    *events.Broker
	requester Requester
	cfg       *config.Config
	engineID  string

	mu      sync.Mutex
	pollers map[string]chan struct{} // cluster id -> poller stop channel

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger

	// nowFn is swapped out in tests.
	nowFn func() time.Time
}

// NewManager builds the health manager for one engine instance.
func NewManager(store storage.Store, broker *events.Broker, requester Requester, cfg *config.Config, engineID string) *Manager {
	return &Manager{
		store:     store,
		broker:    broker,
		requester: requester,
		cfg:       cfg,
		engineID:  engineID,
		pollers:   make(map[string]chan struct{}),
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("health"),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// Start claims registries, launches their activities and begins the
// periodic reclaim loop plus the lifecycle-event listener.
func (m *Manager) Start() {
	m.claim()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		interval := time.Duration(m.cfg.PeriodicInterval) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.claim()
			}
		}
	}()

	if m.broker != nil {
		sub := m.broker.Subscribe()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-m.stopCh:
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					m.handleLifecycleEvent(ev)
				}
			}
		}()
	}

	m.logger.Info().Str("engine_id", m.engineID).Msg("Health manager started")
}

// Stop halts every poller and background loop.
func (m *Manager) Stop() {
	close(m.stopCh)

	m.mu.Lock()
	for clusterID, stop := range m.pollers {
		close(stop)
		delete(m.pollers, clusterID)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("Health manager stopped")
}

// claim takes over unclaimed registry rows and rows orphaned by dead
// engines, then makes sure every claimed row has its activity running.
func (m *Manager) claim() {
	claimed, err := m.store.ClaimRegistries(m.engineID, m.nowFn(), m.cfg.EngineLivenessWindow())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to claim health registries")
		return
	}
	for _, r := range claimed {
		m.logger.Info().
			Str("cluster_id", r.ClusterID).
			Str("check_type", string(r.CheckType)).
			Msg("Claimed health registry")
	}

	rows, err := m.store.ListRegistries(m.engineID)
	if err != nil {
		return
	}
	want := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.Enabled && r.CheckType == types.NodeStatusPolling {
			want[r.ClusterID] = true
			m.ensurePoller(r)
		}
	}
	m.reconcilePollers(want)
}

// reconcilePollers stops pollers for clusters this engine no longer
// polls: rows disabled, dropped, or re-claimed by another engine.
func (m *Manager) reconcilePollers(want map[string]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for clusterID, stop := range m.pollers {
		if want[clusterID] {
			continue
		}
		close(stop)
		delete(m.pollers, clusterID)
		m.logger.Info().
			Str("cluster_id", clusterID).
			Msg("Stopped poller for relinquished registry")
	}
}

// Register enrolls a cluster for health checking. Implements the policy
// package's HealthManager contract.
func (m *Manager) Register(clusterID string, checkType types.HealthCheckType, interval int, params map[string]interface{}) error {
	if _, err := m.store.GetRegistryByCluster(clusterID); err == nil {
		return fmt.Errorf("cluster %s is already registered for health checking", clusterID)
	}
	r := &types.HealthRegistry{
		ID:        uuid.NewString(),
		ClusterID: clusterID,
		CheckType: checkType,
		Interval:  interval,
		Params:    params,
		EngineID:  m.engineID,
		Enabled:   true,
	}
	if err := m.store.CreateRegistry(r); err != nil {
		return err
	}
	if checkType == types.NodeStatusPolling {
		m.ensurePoller(r)
	}
	m.logger.Info().
		Str("cluster_id", clusterID).
		Str("check_type", string(checkType)).
		Int("interval", interval).
		Msg("Cluster registered for health checking")
	return nil
}

// Unregister removes the cluster's registry row and stops its activity.
func (m *Manager) Unregister(clusterID string) error {
	r, err := m.store.GetRegistryByCluster(clusterID)
	if err != nil {
		return nil
	}
	m.stopPoller(clusterID)
	return m.store.DeleteRegistry(r.ID)
}

// Disable pauses detection without dropping the registration.
func (m *Manager) Disable(clusterID string) error {
	r, err := m.store.GetRegistryByCluster(clusterID)
	if err != nil {
		return nil
	}
	r.Enabled = false
	if err := m.store.UpdateRegistry(r); err != nil {
		return err
	}
	m.stopPoller(clusterID)
	return nil
}

// Enable resumes a paused registration.
func (m *Manager) Enable(clusterID string) error {
	r, err := m.store.GetRegistryByCluster(clusterID)
	if err != nil {
		return nil
	}
	r.Enabled = true
	if err := m.store.UpdateRegistry(r); err != nil {
		return err
	}
	if r.EngineID == m.engineID && r.CheckType == types.NodeStatusPolling {
		m.ensurePoller(r)
	}
	return nil
}

func (m *Manager) ensurePoller(r *types.HealthRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.pollers[r.ClusterID]; running {
		return
	}
	stop := make(chan struct{})
	m.pollers[r.ClusterID] = stop

	m.wg.Add(1)
	go m.runPoller(r.ClusterID, m.pollInterval(r.Interval), r.Params, stop)
}

func (m *Manager) stopPoller(clusterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, running := m.pollers[clusterID]; running {
		close(stop)
		delete(m.pollers, clusterID)
	}
}

// pollInterval applies the configured cap and a jitter so pollers of
// many clusters do not align their storms.
func (m *Manager) pollInterval(seconds int) time.Duration {
	if seconds < 1 {
		seconds = m.cfg.PeriodicInterval
	}
	if m.cfg.PeriodicIntervalMax > 0 && seconds > m.cfg.PeriodicIntervalMax {
		seconds = m.cfg.PeriodicIntervalMax
	}
	interval := time.Duration(seconds) * time.Second
	jitter := time.Duration(rand.Int63n(int64(interval) / 5))
	return interval + jitter
}

func (m *Manager) runPoller(clusterID string, interval time.Duration, params map[string]interface{}, stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			metrics.HealthChecks.WithLabelValues(string(types.NodeStatusPolling)).Inc()
			if _, err := m.requester.ClusterCheck(clusterID, params); err != nil {
				m.logger.Warn().Err(err).
					Str("cluster_id", clusterID).
					Msg("Failed to issue cluster check")
			}
		}
	}
}

// handleLifecycleEvent translates an infrastructure lifecycle event into
// a node recovery, provided the node's cluster is enrolled with
// LIFECYCLE_EVENTS detection, enabled, and claimed by this engine.
func (m *Manager) handleLifecycleEvent(ev *events.Event) {
	reason, triggering := lifecycleTriggers[ev.Type]
	if !triggering {
		return
	}
	nodeID := ev.Metadata["node_id"]
	if nodeID == "" {
		return
	}
	node, err := m.store.GetNode(nodeID)
	if err != nil || node.ClusterID == "" {
		return
	}
	r, err := m.store.GetRegistryByCluster(node.ClusterID)
	if err != nil || !r.Enabled || r.EngineID != m.engineID || r.CheckType != types.LifecycleEvents {
		return
	}

	metrics.HealthChecks.WithLabelValues(string(types.LifecycleEvents)).Inc()
	params := map[string]interface{}{"reason": reason}
	for k, v := range r.Params {
		params[k] = v
	}
	if _, err := m.requester.NodeRecover(nodeID, params); err != nil {
		m.logger.Warn().Err(err).
			Str("node_id", nodeID).
			Msg("Failed to issue node recovery")
		return
	}
	m.logger.Info().
		Str("node_id", nodeID).
		Str("cluster_id", node.ClusterID).
		Str("trigger", string(ev.Type)).
		Msg("Node recovery requested from lifecycle event")
}
