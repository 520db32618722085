package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/grovehq/grove/pkg/types"
)

// Action queue primitives. Every transition runs in a single bbolt update
// transaction so acquisition, lock release and dependency resolution are
// atomic with respect to concurrent workers.

func (s *BoltStore) CreateAction(a *types.Action) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		seqB := tx.Bucket(bucketActionSeq)
		seq, err := seqB.NextSequence()
		if err != nil {
			return err
		}
		// The sequence index gives AcquireFirstReady a stable FIFO
		// iteration order independent of action id.
		if err := seqB.Put([]byte(fmt.Sprintf("%020d", seq)), []byte(a.ID)); err != nil {
			return err
		}
		return put(tx, bucketActions, a.ID, a)
	})
}

func (s *BoltStore) GetAction(id string) (*types.Action, error) {
	var a types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketActions, id, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListActions(f ActionFilter) ([]*types.Action, error) {
	var actions []*types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var a types.Action
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if f.Target != "" && a.Target != f.Target {
				return nil
			}
			if f.Action != "" && a.Action != f.Action {
				return nil
			}
			if f.Status != "" && string(a.Status) != f.Status {
				return nil
			}
			actions = append(actions, &a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].CreatedAt.Before(actions[j].CreatedAt)
		}
		return actions[i].ID < actions[j].ID
	})
	return page(actions, f.Limit, f.Marker, func(a *types.Action) string { return a.ID }), nil
}

// DeleteAction removes a terminal action together with its queue index and
// any stale signal. Non-terminal actions cannot be deleted.
func (s *BoltStore) DeleteAction(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var a types.Action
		if err := get(tx, bucketActions, id, &a); err != nil {
			return err
		}
		if !a.Status.Terminal() {
			return fmt.Errorf("%w: action %s is %s", ErrConflict, id, a.Status)
		}
		seqB := tx.Bucket(bucketActionSeq)
		c := seqB.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				if err := seqB.Delete(k); err != nil {
					return err
				}
				break
			}
		}
		if err := tx.Bucket(bucketSignals).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketActions).Delete([]byte(id))
	})
}

// AcquireFirstReady walks the queue in insertion order and claims the first
// READY action for owner, switching it to RUNNING in the same transaction.
func (s *BoltStore) AcquireFirstReady(owner string, now time.Time) (*types.Action, error) {
	var acquired *types.Action
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketActionSeq).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a types.Action
			if err := get(tx, bucketActions, string(v), &a); err != nil {
				continue
			}
			if a.Status != types.ActionStatusReady {
				continue
			}
			// A READY action with an owner is a parent promoted back from
			// WAITING; its original worker is still driving it.
			if a.Owner != "" {
				continue
			}
			a.Status = types.ActionStatusRunning
			a.Owner = owner
			if a.StartTime.IsZero() {
				a.StartTime = now
			}
			a.UpdatedAt = now
			if err := put(tx, bucketActions, a.ID, &a); err != nil {
				return err
			}
			acquired = &a
			return nil
		}
		return ErrNoReadyAction
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (s *BoltStore) MarkSucceeded(id string, ts time.Time, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return markTerminal(tx, id, types.ActionStatusSucceeded, ts, reason)
	})
}

func (s *BoltStore) MarkFailed(id string, ts time.Time, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return markTerminal(tx, id, types.ActionStatusFailed, ts, reason)
	})
}

func (s *BoltStore) MarkCancelled(id string, ts time.Time, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return markTerminal(tx, id, types.ActionStatusCancelled, ts, reason)
	})
}

// markTerminal finalizes one action: terminal status, owner cleared, locks
// released, pending signal dropped, dependency edges resolved and an audit
// event appended. Dependents are promoted or failed according to how this
// action ended.
func markTerminal(tx *bolt.Tx, id string, status types.ActionStatus, ts time.Time, reason string) error {
	var a types.Action
	if err := get(tx, bucketActions, id, &a); err != nil {
		return err
	}
	if a.Status.Terminal() && a.Status != status {
		// Finalizing an action the store already flipped (dependency
		// failure) keeps the flipped status bookkeeping.
		status = a.Status
	}

	a.Status = status
	if reason != "" {
		a.StatusReason = reason
	}
	a.Owner = ""
	a.EndTime = ts
	a.UpdatedAt = ts
	if err := put(tx, bucketActions, id, &a); err != nil {
		return err
	}

	if err := releaseAllLocks(tx, id); err != nil {
		return err
	}
	if err := tx.Bucket(bucketSignals).Delete([]byte(id)); err != nil {
		return err
	}

	// Resolve edges toward actions waiting on this one.
	for _, depID := range a.DependedBy {
		if err := resolveDependent(tx, depID, id, status, ts); err != nil {
			return err
		}
	}

	// A cancelled action sweeps its unresolved dependencies so derived
	// work does not keep running under a dead parent.
	if status == types.ActionStatusCancelled {
		for _, childID := range a.DependsOn {
			if err := cascadeCancel(tx, childID, ts); err != nil {
				return err
			}
		}
	}

	return createEvent(tx, &types.Event{
		Timestamp: ts,
		Level:     eventLevelFor(status),
		ActionID:  id,
		ObjType:   "action",
		ObjID:     a.Target,
		ObjName:   a.Name,
		Status:    string(status),
		Reason:    a.StatusReason,
	})
}

func eventLevelFor(status types.ActionStatus) types.EventLevel {
	if status == types.ActionStatusFailed {
		return types.EventError
	}
	return types.EventInfo
}

// resolveDependent removes the finished action from the dependent's wait
// set. When every dependency succeeded the dependent becomes READY again;
// when one did not, the dependent is flipped FAILED in place. The flip is
// shallow: the dependent's owner keeps polling and finalizes it.
func resolveDependent(tx *bolt.Tx, depID, finishedID string, finished types.ActionStatus, ts time.Time) error {
	var d types.Action
	if err := get(tx, bucketActions, depID, &d); err != nil {
		return nil
	}
	d.DependsOn = remove(d.DependsOn, finishedID)
	d.UpdatedAt = ts

	switch {
	case finished != types.ActionStatusSucceeded:
		if !d.Status.Terminal() {
			d.Status = types.ActionStatusFailed
			d.StatusReason = fmt.Sprintf("dependency %s did not succeed", finishedID)
		}
	case len(d.DependsOn) == 0 && d.Status == types.ActionStatusWaiting:
		d.Status = types.ActionStatusReady
	}
	return put(tx, bucketActions, depID, &d)
}

// cascadeCancel propagates cancellation depth-first into an unresolved
// dependency. Running or suspended actions get a CANCEL_PARENT signal
// and wind down on their own; actions that never started are failed
// outright.
func cascadeCancel(tx *bolt.Tx, id string, ts time.Time) error {
	var a types.Action
	if err := get(tx, bucketActions, id, &a); err != nil {
		return nil
	}
	switch a.Status {
	case types.ActionStatusRunning, types.ActionStatusSuspended:
		// In-flight children wind down on their own, ending FAILED with
		// the same reason as children that never started.
		return tx.Bucket(bucketSignals).Put([]byte(id), []byte(types.SignalCancelParent))
	case types.ActionStatusInit, types.ActionStatusReady, types.ActionStatusWaiting:
		return markTerminal(tx, id, types.ActionStatusFailed, ts, "parent cancelled")
	}
	return nil
}

// Abandon hands a RUNNING action back to the queue untouched.
func (s *BoltStore) Abandon(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var a types.Action
		if err := get(tx, bucketActions, id, &a); err != nil {
			return err
		}
		if a.Status != types.ActionStatusRunning {
			return fmt.Errorf("%w: action %s is %s, not RUNNING", ErrConflict, id, a.Status)
		}
		a.Status = types.ActionStatusReady
		a.Owner = ""
		a.StartTime = time.Time{}
		a.UpdatedAt = time.Now().UTC()
		return put(tx, bucketActions, id, &a)
	})
}

// Disown clears a dead engine's ownership of a queued action. RUNNING
// actions go back to READY with a fresh start time; a READY parent that
// kept its owner across a WAITING round trip only loses the owner. The
// owner is compared first so two reapers cannot race each other.
func (s *BoltStore) Disown(id, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var a types.Action
		if err := get(tx, bucketActions, id, &a); err != nil {
			return err
		}
		if a.Owner != owner {
			return fmt.Errorf("%w: action %s is owned by %q", ErrConflict, id, a.Owner)
		}
		switch a.Status {
		case types.ActionStatusRunning:
			a.Status = types.ActionStatusReady
			a.StartTime = time.Time{}
		case types.ActionStatusReady:
		default:
			return fmt.Errorf("%w: action %s is %s", ErrConflict, id, a.Status)
		}
		a.Owner = ""
		a.UpdatedAt = time.Now().UTC()
		return put(tx, bucketActions, id, &a)
	})
}

func (s *BoltStore) UpdateActionFields(a *types.Action) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketActions, a.ID) {
			return fmt.Errorf("%w: action %s", ErrNotFound, a.ID)
		}
		return put(tx, bucketActions, a.ID, a)
	})
}

// Signal records a pending command for the action. CANCEL also propagates
// into every unresolved dependency so the whole derived tree winds down.
func (s *BoltStore) Signal(id string, sig types.Signal) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var a types.Action
		if err := get(tx, bucketActions, id, &a); err != nil {
			return err
		}
		if a.Status.Terminal() {
			return fmt.Errorf("%w: action %s already %s", ErrConflict, id, a.Status)
		}
		if err := tx.Bucket(bucketSignals).Put([]byte(id), []byte(sig)); err != nil {
			return err
		}
		if sig == types.SignalCancel {
			ts := time.Now().UTC()
			for _, childID := range a.DependsOn {
				if err := cascadeCancel(tx, childID, ts); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) SignalQuery(id string) (types.Signal, error) {
	var sig types.Signal
	err := s.db.View(func(tx *bolt.Tx) error {
		if !exists(tx, bucketActions, id) {
			return fmt.Errorf("%w: action %s", ErrNotFound, id)
		}
		sig = types.Signal(tx.Bucket(bucketSignals).Get([]byte(id)))
		return nil
	})
	return sig, err
}

func (s *BoltStore) ClearSignal(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignals).Delete([]byte(id))
	})
}

func (s *BoltStore) CheckStatus(id string) (types.ActionStatus, error) {
	var status types.ActionStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		var a types.Action
		if err := get(tx, bucketActions, id, &a); err != nil {
			return err
		}
		status = a.Status
		return nil
	})
	return status, err
}

// AddDependencies wires dependent behind every action in depended and
// parks it WAITING. Edges are recorded on both sides in one transaction.
func (s *BoltStore) AddDependencies(depended []string, dependent string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var d types.Action
		if err := get(tx, bucketActions, dependent, &d); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, id := range depended {
			var a types.Action
			if err := get(tx, bucketActions, id, &a); err != nil {
				return err
			}
			a.DependedBy = appendUnique(a.DependedBy, dependent)
			a.UpdatedAt = now
			if err := put(tx, bucketActions, id, &a); err != nil {
				return err
			}
			d.DependsOn = appendUnique(d.DependsOn, id)
		}
		d.Status = types.ActionStatusWaiting
		d.UpdatedAt = now
		return put(tx, bucketActions, dependent, &d)
	})
}

// Lock operations

func (s *BoltStore) ClusterLockAcquire(clusterID, actionID string, scope types.LockScope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockAcquire(tx, bucketClusterLocks, clusterID, actionID, scope)
	})
}

func (s *BoltStore) ClusterLockRelease(clusterID, actionID string, scope types.LockScope) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockRelease(tx, bucketClusterLocks, clusterID, actionID)
	})
}

func (s *BoltStore) ClusterLockSteal(clusterID, actionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockSteal(tx, bucketClusterLocks, clusterID, actionID, types.LockExclusive)
	})
}

func (s *BoltStore) ClusterLockOwners(clusterID string) ([]string, error) {
	return s.lockOwners(bucketClusterLocks, clusterID)
}

func (s *BoltStore) NodeLockAcquire(nodeID, actionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockAcquire(tx, bucketNodeLocks, nodeID, actionID, types.LockExclusive)
	})
}

func (s *BoltStore) NodeLockRelease(nodeID, actionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockRelease(tx, bucketNodeLocks, nodeID, actionID)
	})
}

func (s *BoltStore) NodeLockSteal(nodeID, actionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return lockSteal(tx, bucketNodeLocks, nodeID, actionID, types.LockExclusive)
	})
}

func (s *BoltStore) NodeLockOwners(nodeID string) ([]string, error) {
	return s.lockOwners(bucketNodeLocks, nodeID)
}

func lockAcquire(tx *bolt.Tx, bucket []byte, resourceID, actionID string, scope types.LockScope) error {
	var l types.Lock
	err := get(tx, bucket, resourceID, &l)
	if err != nil {
		// No holder, take the lock.
		l = types.Lock{
			ResourceID: resourceID,
			ActionIDs:  []string{actionID},
			Scope:      scope,
			UpdatedAt:  time.Now().UTC(),
		}
		return put(tx, bucket, resourceID, &l)
	}
	for _, id := range l.ActionIDs {
		if id == actionID {
			return nil
		}
	}
	if l.Scope == types.LockShared && scope == types.LockShared {
		l.ActionIDs = append(l.ActionIDs, actionID)
		l.UpdatedAt = time.Now().UTC()
		return put(tx, bucket, resourceID, &l)
	}
	return fmt.Errorf("%w: %s held by %v", ErrLockContention, resourceID, l.ActionIDs)
}

func lockRelease(tx *bolt.Tx, bucket []byte, resourceID, actionID string) error {
	var l types.Lock
	if err := get(tx, bucket, resourceID, &l); err != nil {
		return nil
	}
	l.ActionIDs = remove(l.ActionIDs, actionID)
	if len(l.ActionIDs) == 0 {
		return tx.Bucket(bucket).Delete([]byte(resourceID))
	}
	l.UpdatedAt = time.Now().UTC()
	return put(tx, bucket, resourceID, &l)
}

func lockSteal(tx *bolt.Tx, bucket []byte, resourceID, actionID string, scope types.LockScope) error {
	l := types.Lock{
		ResourceID: resourceID,
		ActionIDs:  []string{actionID},
		Scope:      scope,
		UpdatedAt:  time.Now().UTC(),
	}
	return put(tx, bucket, resourceID, &l)
}

func (s *BoltStore) lockOwners(bucket []byte, resourceID string) ([]string, error) {
	var owners []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var l types.Lock
		if err := get(tx, bucket, resourceID, &l); err != nil {
			return nil
		}
		owners = append(owners, l.ActionIDs...)
		return nil
	})
	return owners, err
}

// releaseAllLocks drops every cluster and node lock held by actionID.
func releaseAllLocks(tx *bolt.Tx, actionID string) error {
	for _, bucket := range [][]byte{bucketClusterLocks, bucketNodeLocks} {
		var held []string
		err := tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var l types.Lock
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			for _, id := range l.ActionIDs {
				if id == actionID {
					held = append(held, l.ResourceID)
					break
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, resourceID := range held {
			if err := lockRelease(tx, bucket, resourceID, actionID); err != nil {
				return err
			}
		}
	}
	return nil
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
