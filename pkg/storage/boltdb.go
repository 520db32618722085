package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/grovehq/grove/pkg/types"
)

var (
	// Bucket names
	bucketClusters     = []byte("clusters")
	bucketNodes        = []byte("nodes")
	bucketProfiles     = []byte("profiles")
	bucketPolicies     = []byte("policies")
	bucketBindings     = []byte("bindings")
	bucketActions      = []byte("actions")
	bucketActionSeq    = []byte("action_seq")
	bucketSignals      = []byte("signals")
	bucketClusterLocks = []byte("cluster_locks")
	bucketNodeLocks    = []byte("node_locks")
	bucketRegistries   = []byte("registries")
	bucketEngines      = []byte("engines")
	bucketEvents       = []byte("events")
)

// BoltStore implements Store on a single bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "grove.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClusters,
			bucketNodes,
			bucketProfiles,
			bucketPolicies,
			bucketBindings,
			bucketActions,
			bucketActionSeq,
			bucketSignals,
			bucketClusterLocks,
			bucketNodeLocks,
			bucketRegistries,
			bucketEngines,
			bucketEvents,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// put marshals v into bucket under key within tx.
func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// get unmarshals the record for key from bucket into out; ErrNotFound when
// the key is absent.
func get(tx *bolt.Tx, bucket []byte, key string, out interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return json.Unmarshal(data, out)
}

func exists(tx *bolt.Tx, bucket []byte, key string) bool {
	return tx.Bucket(bucket).Get([]byte(key)) != nil
}

// Cluster operations

func (s *BoltStore) CreateCluster(c *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketClusters, c.ID, c)
	})
}

func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var c types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketClusters, id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListClusters(f ClusterFilter) ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var c types.Cluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if f.Status != "" && string(c.Status) != f.Status {
				return nil
			}
			if f.Name != "" && c.Name != f.Name {
				return nil
			}
			clusters = append(clusters, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return page(clusters, f.Limit, f.Marker, func(c *types.Cluster) string { return c.ID }), nil
}

func (s *BoltStore) UpdateCluster(c *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketClusters, c.ID) {
			return fmt.Errorf("%w: cluster %s", ErrNotFound, c.ID)
		}
		return put(tx, bucketClusters, c.ID, c)
	})
}

func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketClusters, id) {
			return fmt.Errorf("%w: cluster %s", ErrNotFound, id)
		}
		return tx.Bucket(bucketClusters).Delete([]byte(id))
	})
}

func (s *BoltStore) NextClusterIndex(id string) (int, error) {
	var index int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var c types.Cluster
		if err := get(tx, bucketClusters, id, &c); err != nil {
			return err
		}
		index = c.NextIndex
		c.NextIndex++
		return put(tx, bucketClusters, id, &c)
	})
	return index, err
}

// Node operations

func (s *BoltStore) CreateNode(n *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketNodes, n.ID, n)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var n types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketNodes, id, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodes(f NodeFilter) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if f.ClusterID != "" && n.ClusterID != f.ClusterID {
				return nil
			}
			if f.Status != "" && string(n.Status) != f.Status {
				return nil
			}
			if f.Name != "" && n.Name != f.Name {
				return nil
			}
			nodes = append(nodes, &n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Index != nodes[j].Index {
			return nodes[i].Index < nodes[j].Index
		}
		return nodes[i].ID < nodes[j].ID
	})
	return page(nodes, f.Limit, f.Marker, func(n *types.Node) string { return n.ID }), nil
}

func (s *BoltStore) UpdateNode(n *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketNodes, n.ID) {
			return fmt.Errorf("%w: node %s", ErrNotFound, n.ID)
		}
		return put(tx, bucketNodes, n.ID, n)
	})
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketNodes, id) {
			return fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Profile operations

func (s *BoltStore) CreateProfile(p *types.Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketProfiles, p.ID, p)
	})
}

func (s *BoltStore) GetProfile(id string) (*types.Profile, error) {
	var p types.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketProfiles, id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListProfiles() ([]*types.Profile, error) {
	var profiles []*types.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			var p types.Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			profiles = append(profiles, &p)
			return nil
		})
	})
	return profiles, err
}

func (s *BoltStore) UpdateProfile(p *types.Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketProfiles, p.ID) {
			return fmt.Errorf("%w: profile %s", ErrNotFound, p.ID)
		}
		return put(tx, bucketProfiles, p.ID, p)
	})
}

// DeleteProfile refuses to remove a profile still referenced by a cluster
// or node.
func (s *BoltStore) DeleteProfile(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketProfiles, id) {
			return fmt.Errorf("%w: profile %s", ErrNotFound, id)
		}
		var used bool
		err := tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var c types.Cluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.ProfileID == id {
				used = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !used {
			err = tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
				var n types.Node
				if err := json.Unmarshal(v, &n); err != nil {
					return err
				}
				if n.ProfileID == id {
					used = true
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		if used {
			return fmt.Errorf("%w: profile %s is in use", ErrConflict, id)
		}
		return tx.Bucket(bucketProfiles).Delete([]byte(id))
	})
}

// Policy operations

func (s *BoltStore) CreatePolicy(p *types.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketPolicies, p.ID, p)
	})
}

func (s *BoltStore) GetPolicy(id string) (*types.Policy, error) {
	var p types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketPolicies, id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPolicies() ([]*types.Policy, error) {
	var policies []*types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.Policy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			policies = append(policies, &p)
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) UpdatePolicy(p *types.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketPolicies, p.ID) {
			return fmt.Errorf("%w: policy %s", ErrNotFound, p.ID)
		}
		return put(tx, bucketPolicies, p.ID, p)
	})
}

// DeletePolicy refuses to remove a policy still bound to a cluster.
func (s *BoltStore) DeletePolicy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketPolicies, id) {
			return fmt.Errorf("%w: policy %s", ErrNotFound, id)
		}
		var bound bool
		err := tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.ClusterPolicy
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.PolicyID == id {
				bound = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if bound {
			return fmt.Errorf("%w: policy %s is still attached", ErrConflict, id)
		}
		return tx.Bucket(bucketPolicies).Delete([]byte(id))
	})
}

// Binding operations. Keys are "<cluster_id>/<policy_id>".

func bindingKey(clusterID, policyID string) string {
	return clusterID + "/" + policyID
}

func (s *BoltStore) CreateBinding(b *types.ClusterPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bindingKey(b.ClusterID, b.PolicyID)
		if exists(tx, bucketBindings, key) {
			return fmt.Errorf("%w: policy %s already attached to cluster %s",
				ErrConflict, b.PolicyID, b.ClusterID)
		}
		return put(tx, bucketBindings, key, b)
	})
}

func (s *BoltStore) GetBinding(clusterID, policyID string) (*types.ClusterPolicy, error) {
	var b types.ClusterPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketBindings, bindingKey(clusterID, policyID), &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBindings(clusterID string) ([]*types.ClusterPolicy, error) {
	var bindings []*types.ClusterPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.ClusterPolicy
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.ClusterID == clusterID {
				bindings = append(bindings, &b)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(bindings, func(i, j int) bool {
		if bindings[i].Priority != bindings[j].Priority {
			return bindings[i].Priority < bindings[j].Priority
		}
		return bindings[i].PolicyID < bindings[j].PolicyID
	})
	return bindings, nil
}

func (s *BoltStore) ListBindingsByPolicy(policyID string) ([]*types.ClusterPolicy, error) {
	var bindings []*types.ClusterPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.ClusterPolicy
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.PolicyID == policyID {
				bindings = append(bindings, &b)
			}
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) UpdateBinding(b *types.ClusterPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bindingKey(b.ClusterID, b.PolicyID)
		if !exists(tx, bucketBindings, key) {
			return fmt.Errorf("%w: binding %s", ErrNotFound, key)
		}
		return put(tx, bucketBindings, key, b)
	})
}

func (s *BoltStore) DeleteBinding(clusterID, policyID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := bindingKey(clusterID, policyID)
		if !exists(tx, bucketBindings, key) {
			return fmt.Errorf("%w: binding %s", ErrNotFound, key)
		}
		return tx.Bucket(bucketBindings).Delete([]byte(key))
	})
}

// Health registry operations

func (s *BoltStore) CreateRegistry(r *types.HealthRegistry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRegistries, r.ID, r)
	})
}

func (s *BoltStore) GetRegistryByCluster(clusterID string) (*types.HealthRegistry, error) {
	var found *types.HealthRegistry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistries).ForEach(func(k, v []byte) error {
			var r types.HealthRegistry
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.ClusterID == clusterID {
				found = &r
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: registry for cluster %s", ErrNotFound, clusterID)
	}
	return found, nil
}

func (s *BoltStore) ListRegistries(engineID string) ([]*types.HealthRegistry, error) {
	var registries []*types.HealthRegistry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRegistries).ForEach(func(k, v []byte) error {
			var r types.HealthRegistry
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if engineID == "" || r.EngineID == engineID {
				registries = append(registries, &r)
			}
			return nil
		})
	})
	return registries, err
}

func (s *BoltStore) UpdateRegistry(r *types.HealthRegistry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketRegistries, r.ID) {
			return fmt.Errorf("%w: registry %s", ErrNotFound, r.ID)
		}
		return put(tx, bucketRegistries, r.ID, r)
	})
}

func (s *BoltStore) DeleteRegistry(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx, bucketRegistries, id) {
			return fmt.Errorf("%w: registry %s", ErrNotFound, id)
		}
		return tx.Bucket(bucketRegistries).Delete([]byte(id))
	})
}

// ClaimRegistries reassigns unclaimed registries and registries owned by
// dead engines to engineID, returning every registry it now owns.
func (s *BoltStore) ClaimRegistries(engineID string, now time.Time, window time.Duration) ([]*types.HealthRegistry, error) {
	var owned []*types.HealthRegistry
	err := s.db.Update(func(tx *bolt.Tx) error {
		alive := make(map[string]bool)
		err := tx.Bucket(bucketEngines).ForEach(func(k, v []byte) error {
			var e types.Engine
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			alive[e.ID] = now.Sub(e.UpdatedAt) <= window
			return nil
		})
		if err != nil {
			return err
		}

		b := tx.Bucket(bucketRegistries)
		var pending []*types.HealthRegistry
		err = b.ForEach(func(k, v []byte) error {
			var r types.HealthRegistry
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.EngineID == engineID {
				owned = append(owned, &r)
				return nil
			}
			if r.EngineID == "" || !alive[r.EngineID] {
				pending = append(pending, &r)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, r := range pending {
			r.EngineID = engineID
			if err := put(tx, bucketRegistries, r.ID, r); err != nil {
				return err
			}
			owned = append(owned, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owned, nil
}

// Engine liveness operations

func (s *BoltStore) EngineHeartbeat(e *types.Engine) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketEngines, e.ID, e)
	})
}

func (s *BoltStore) GetEngine(id string) (*types.Engine, error) {
	var e types.Engine
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketEngines, id, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListEngines() ([]*types.Engine, error) {
	var engines []*types.Engine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEngines).ForEach(func(k, v []byte) error {
			var e types.Engine
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			engines = append(engines, &e)
			return nil
		})
	})
	return engines, err
}

func (s *BoltStore) EngineAlive(id string, now time.Time, window time.Duration) (bool, error) {
	e, err := s.GetEngine(id)
	if err != nil {
		return false, err
	}
	return now.Sub(e.UpdatedAt) <= window, nil
}

func (s *BoltStore) RemoveEngine(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEngines).Delete([]byte(id))
	})
}

// Event operations. Keys are zero-padded sequence numbers so iteration
// returns events in append order.

func (s *BoltStore) CreateEvent(e *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return createEvent(tx, e)
	})
}

func createEvent(tx *bolt.Tx, e *types.Event) error {
	b := tx.Bucket(bucketEvents)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d", seq)
	if e.ID == "" {
		e.ID = key
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (s *BoltStore) ListEvents(f EventFilter) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if f.ObjType != "" && e.ObjType != f.ObjType {
				return nil
			}
			if f.ObjID != "" && e.ObjID != f.ObjID {
				return nil
			}
			if f.Level != "" && string(e.Level) != f.Level {
				return nil
			}
			events = append(events, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return page(events, f.Limit, f.Marker, func(e *types.Event) string { return e.ID }), nil
}

// page applies marker/limit pagination to a sorted slice.
func page[T any](items []T, limit int, marker string, id func(T) string) []T {
	if marker != "" {
		for i, it := range items {
			if id(it) == marker {
				items = items[i+1:]
				break
			}
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
