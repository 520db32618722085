// Package lock layers retry and steal-on-stale behavior over the store's
// advisory cluster and node locks. A lock held by an action whose owning
// engine stopped heartbeating is forcibly taken over so one crashed engine
// cannot wedge a cluster forever.
package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Manager acquires and releases advisory locks on behalf of actions.
type Manager struct {
	store    storage.Store
	engineID string

	retryTimes    int
	retryInterval time.Duration
	liveness      time.Duration

	// sleep is swapped out in tests.
	sleep  func(time.Duration)
	logger zerolog.Logger
}

// New builds a lock manager for one engine instance.
func New(store storage.Store, engineID string, retryTimes int, retryInterval, liveness time.Duration) *Manager {
	return &Manager{
		store:         store,
		engineID:      engineID,
		retryTimes:    retryTimes,
		retryInterval: retryInterval,
		liveness:      liveness,
		sleep:         time.Sleep,
		logger:        log.WithComponent("lock"),
	}
}

// AcquireCluster takes the cluster lock for actionID in the given scope,
// retrying on contention and stealing when every current holder belongs to
// a dead engine.
func (m *Manager) AcquireCluster(clusterID, actionID string, scope types.LockScope) error {
	for i := 0; ; i++ {
		err := m.store.ClusterLockAcquire(clusterID, actionID, scope)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrLockContention) {
			return err
		}
		if m.holdersDead(func() ([]string, error) { return m.store.ClusterLockOwners(clusterID) }) {
			m.logger.Warn().
				Str("cluster_id", clusterID).
				Str("action_id", actionID).
				Msg("Stealing cluster lock from dead engine")
			return m.store.ClusterLockSteal(clusterID, actionID)
		}
		if i >= m.retryTimes {
			return fmt.Errorf("cluster %s: %w", clusterID, storage.ErrLockContention)
		}
		m.sleep(m.retryInterval)
	}
}

// ReleaseCluster drops actionID's hold on the cluster lock.
func (m *Manager) ReleaseCluster(clusterID, actionID string, scope types.LockScope) error {
	return m.store.ClusterLockRelease(clusterID, actionID, scope)
}

// AcquireNode takes the exclusive node lock for actionID, with the same
// retry and steal behavior as AcquireCluster.
func (m *Manager) AcquireNode(nodeID, actionID string) error {
	for i := 0; ; i++ {
		err := m.store.NodeLockAcquire(nodeID, actionID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrLockContention) {
			return err
		}
		if m.holdersDead(func() ([]string, error) { return m.store.NodeLockOwners(nodeID) }) {
			m.logger.Warn().
				Str("node_id", nodeID).
				Str("action_id", actionID).
				Msg("Stealing node lock from dead engine")
			return m.store.NodeLockSteal(nodeID, actionID)
		}
		if i >= m.retryTimes {
			return fmt.Errorf("node %s: %w", nodeID, storage.ErrLockContention)
		}
		m.sleep(m.retryInterval)
	}
}

// ReleaseNode drops actionID's hold on the node lock.
func (m *Manager) ReleaseNode(nodeID, actionID string) error {
	return m.store.NodeLockRelease(nodeID, actionID)
}

// holdersDead reports whether every action currently holding the lock is
// owned by an engine that stopped heartbeating. Unowned holders (queued,
// not yet picked up) count as alive.
func (m *Manager) holdersDead(owners func() ([]string, error)) bool {
	ids, err := owners()
	if err != nil || len(ids) == 0 {
		return false
	}
	now := time.Now().UTC()
	for _, actionID := range ids {
		a, err := m.store.GetAction(actionID)
		if err != nil {
			// Holder record is gone; treat the hold as stale.
			continue
		}
		if a.Owner == "" || a.Owner == m.engineID {
			return false
		}
		alive, err := m.store.EngineAlive(a.Owner, now, m.liveness)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return false
		}
		if err == nil && alive {
			return false
		}
	}
	return true
}
