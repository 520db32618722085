package action

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/lock"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// harness runs a real dispatcher and worker pool over a throwaway store,
// so cluster actions expand into node children exactly as in production.
type harness struct {
	t     *testing.T
	deps  *Deps
	store *storage.BoltStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	profiles := profile.NewRegistry()
	profiles.Register(profile.FakeType())

	policies := policy.NewRegistry()
	pctx := &policy.Context{Store: s}

	deps := &Deps{
		Store:     s,
		Locks:     lock.New(s, "engine-1", 2, time.Millisecond, time.Minute),
		Checker:   policy.NewChecker(s, policies, pctx),
		Policies:  policies,
		PolicyCtx: pctx,
		Profiles:  profiles,
		Config:    config.Default(),
		EngineID:  "engine-1",
		Sleep:     func(time.Duration) { time.Sleep(time.Millisecond) },
	}

	pool := NewPool(deps, 8)
	disp := NewDispatcher(deps, pool, 5*time.Millisecond)
	disp.Start()
	t.Cleanup(disp.Stop)

	return &harness{t: t, deps: deps, store: s}
}

func (h *harness) createProfile(id string, spec map[string]interface{}) {
	h.t.Helper()
	require.NoError(h.t, h.store.CreateProfile(&types.Profile{
		ID:   id,
		Name: id,
		Type: profile.FakeTypeName,
		Spec: spec,
	}))
}

func (h *harness) createCluster(id string, desired, minSize, maxSize int) *types.Cluster {
	h.t.Helper()
	c := &types.Cluster{
		ID:              id,
		Name:            "web",
		ProfileID:       "prof-1",
		MinSize:         minSize,
		MaxSize:         maxSize,
		DesiredCapacity: desired,
		NextIndex:       1,
		Status:          types.ClusterStatusInit,
		InitAt:          time.Now().UTC(),
	}
	require.NoError(h.t, h.store.CreateCluster(c))
	return c
}

// runAction enqueues an RPC-cause action and blocks until it settles.
func (h *harness) runAction(verb, target string, inputs map[string]interface{}) *types.Action {
	h.t.Helper()
	a := &types.Action{
		ID:        uuid.NewString(),
		Name:      verb,
		Target:    target,
		Action:    verb,
		Cause:     types.CauseRPCRequest,
		Interval:  -1,
		Timeout:   120,
		Status:    types.ActionStatusReady,
		Inputs:    inputs,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(h.t, h.store.CreateAction(a))
	return h.waitTerminal(a.ID)
}

func (h *harness) waitTerminal(id string) *types.Action {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		a, err := h.store.GetAction(id)
		require.NoError(h.t, err)
		if a.Status.Terminal() {
			return a
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("action %s did not settle", id)
	return nil
}

func (h *harness) nodes(clusterID string) []*types.Node {
	h.t.Helper()
	nodes, err := h.store.ListNodes(storage.NodeFilter{ClusterID: clusterID})
	require.NoError(h.t, err)
	return nodes
}

func (h *harness) cluster(id string) *types.Cluster {
	h.t.Helper()
	c, err := h.store.GetCluster(id)
	require.NoError(h.t, err)
	return c
}

func TestClusterCreateLifecycle(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 4)

	a := h.runAction(types.ClusterCreate, "c1", nil)
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, types.ClusterStatusActive, cluster.Status)

	nodes := h.nodes("c1")
	require.Len(t, nodes, 2)
	indices := map[int]bool{}
	for _, n := range nodes {
		assert.Equal(t, types.NodeStatusActive, n.Status)
		assert.NotEmpty(t, n.PhysicalID)
		indices[n.Index] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, indices)

	// Every derived child settled SUCCEEDED.
	children, err := h.store.ListActions(storage.ActionFilter{Action: types.NodeCreate})
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, types.ActionStatusSucceeded, c.Status)
		assert.Empty(t, c.Owner)
	}
}

func TestClusterCreateRequiresInit(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	c := h.createCluster("c1", 1, 0, 2)
	c.Status = types.ClusterStatusActive
	require.NoError(t, h.store.UpdateCluster(c))

	a := h.runAction(types.ClusterCreate, "c1", nil)
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Contains(t, a.StatusReason, "expected INIT")
}

func TestClusterCreateChildFailureDegradesCluster(t *testing.T) {
	h := newHarness(t)

	// A profile type whose driver refuses creation.
	broken := profile.FakeType()
	inner := broken.NewDriver
	broken.NewDriver = func(spec *schema.Spec) (profile.Driver, error) {
		d, err := inner(spec)
		if err != nil {
			return nil, err
		}
		d.(*profile.FakeDriver).FailCreate = true
		return d, nil
	}
	h.deps.Profiles.Register(broken)

	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 4)

	a := h.runAction(types.ClusterCreate, "c1", nil)
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Contains(t, a.StatusReason, "did not succeed")

	cluster := h.cluster("c1")
	assert.Equal(t, types.ClusterStatusError, cluster.Status)
}

func TestClusterResizeExactCapacity(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterResize, "c1", map[string]interface{}{
		"adjustment_type": types.ExactCapacity,
		"number":          3,
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, 3, cluster.DesiredCapacity)
	assert.Equal(t, types.ClusterStatusActive, cluster.Status)
	assert.Len(t, h.nodes("c1"), 3)
}

func TestClusterResizeStrictOverMaxFails(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterResize, "c1", map[string]interface{}{
		"adjustment_type": types.ExactCapacity,
		"number":          5,
		"strict":          true,
	})
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Equal(t, "Attempted scaling exceeds maximum size", a.StatusReason)
	assert.Len(t, h.nodes("c1"), 2)
}

func TestClusterResizeBoundsOnlyEmitsNoChildren(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterResize, "c1", map[string]interface{}{
		"min_size": 2,
		"max_size": 6,
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, 2, cluster.MinSize)
	assert.Equal(t, 6, cluster.MaxSize)
	assert.Equal(t, 2, cluster.DesiredCapacity)

	rec, err := h.store.GetAction(a.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.DependsOn)
	assert.Len(t, h.nodes("c1"), 2)
}

func TestScaleOutStrictPolicyVeto(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	require.NoError(t, h.store.CreatePolicy(&types.Policy{
		ID:   "pol-scale",
		Type: policy.ScalingOutName,
		Spec: map[string]interface{}{
			"adjustment": map[string]interface{}{"type": types.ChangeInCapacity, "number": 1},
		},
	}))
	require.NoError(t, h.store.CreateBinding(&types.ClusterPolicy{
		ClusterID: "c1", PolicyID: "pol-scale", Priority: 10, Enabled: true,
	}))

	a := h.runAction(types.ClusterScaleOut, "c1", map[string]interface{}{"count": 5})
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Contains(t, a.StatusReason, "Attempted scaling exceeds maximum size")
	assert.Len(t, h.nodes("c1"), 2)
	assert.Equal(t, 2, h.cluster("c1").DesiredCapacity)
}

func TestScaleOutBestEffortTruncates(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	require.NoError(t, h.store.CreatePolicy(&types.Policy{
		ID:   "pol-scale",
		Type: policy.ScalingOutName,
		Spec: map[string]interface{}{
			"adjustment": map[string]interface{}{
				"type":        types.ChangeInCapacity,
				"number":      1,
				"best_effort": true,
			},
		},
	}))
	require.NoError(t, h.store.CreateBinding(&types.ClusterPolicy{
		ClusterID: "c1", PolicyID: "pol-scale", Priority: 10, Enabled: true,
	}))

	a := h.runAction(types.ClusterScaleOut, "c1", map[string]interface{}{"count": 5})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)
	assert.Len(t, h.nodes("c1"), 3)
	assert.Equal(t, 3, h.cluster("c1").DesiredCapacity)
}

func TestScaleInNeverReusesIndices(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 3, 1, 6)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterScaleIn, "c1", map[string]interface{}{"count": 1})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)
	assert.Len(t, h.nodes("c1"), 2)
	assert.Equal(t, 2, h.cluster("c1").DesiredCapacity)

	a = h.runAction(types.ClusterScaleOut, "c1", map[string]interface{}{"count": 1})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	seen := map[int]bool{}
	for _, n := range h.nodes("c1") {
		assert.False(t, seen[n.Index], "index %d assigned twice", n.Index)
		seen[n.Index] = true
	}
	// The replacement node got a fresh index past the deleted one.
	assert.True(t, seen[4], "expected a node with index 4, got %v", seen)
}

func TestScaleInBelowMinFails(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 2, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterScaleIn, "c1", map[string]interface{}{"count": 1})
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Equal(t, "Attempted scaling below minimum size", a.StatusReason)
	assert.Len(t, h.nodes("c1"), 2)
}

func TestClusterAddAndDelNodes(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 5)
	h.runAction(types.ClusterCreate, "c1", nil)

	require.NoError(t, h.store.CreateNode(&types.Node{
		ID:        "orphan",
		Name:      "standalone",
		ProfileID: "prof-1",
		Index:     -1,
		Status:    types.NodeStatusActive,
	}))

	a := h.runAction(types.ClusterAddNodes, "c1", map[string]interface{}{
		"nodes": []interface{}{"orphan"},
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	joined, err := h.store.GetNode("orphan")
	require.NoError(t, err)
	assert.Equal(t, "c1", joined.ClusterID)
	assert.Equal(t, 3, joined.Index)
	assert.Equal(t, 3, h.cluster("c1").DesiredCapacity)

	// Default del_nodes detaches without destroying.
	a = h.runAction(types.ClusterDelNodes, "c1", map[string]interface{}{
		"nodes": []interface{}{"orphan"},
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	left, err := h.store.GetNode("orphan")
	require.NoError(t, err)
	assert.Empty(t, left.ClusterID)
	assert.Equal(t, -1, left.Index)
	assert.Equal(t, 2, h.cluster("c1").DesiredCapacity)
}

func TestClusterDelNodesDestroys(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 5)
	h.runAction(types.ClusterCreate, "c1", nil)

	victim := h.nodes("c1")[0]
	a := h.runAction(types.ClusterDelNodes, "c1", map[string]interface{}{
		"nodes":                  []interface{}{victim.ID},
		"destroy_after_deletion": true,
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	_, err := h.store.GetNode(victim.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClusterAddNodesRejectsMember(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 1, 0, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	member := h.nodes("c1")[0]
	a := h.runAction(types.ClusterAddNodes, "c1", map[string]interface{}{
		"nodes": []interface{}{member.ID},
	})
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Contains(t, a.StatusReason, "already belongs")
}

func TestClusterCheckAggregatesCritical(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small", "healthy": false})
	h.createCluster("c1", 2, 1, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterCheck, "c1", nil)
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, types.ClusterStatusCritical, cluster.Status)
	for _, n := range h.nodes("c1") {
		assert.Equal(t, types.NodeStatusError, n.Status)
	}
}

func TestClusterRecoverRestoresActive(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 2, 1, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	nodes := h.nodes("c1")
	broken := nodes[0]
	broken.Status = types.NodeStatusError
	require.NoError(t, h.store.UpdateNode(broken))
	oldPhysical := broken.PhysicalID

	a := h.runAction(types.ClusterRecover, "c1", nil)
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, types.ClusterStatusActive, cluster.Status)

	recovered, err := h.store.GetNode(broken.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, recovered.Status)
	assert.NotEqual(t, oldPhysical, recovered.PhysicalID)
}

func TestClusterUpdateRollsProfile(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createProfile("prof-2", map[string]interface{}{"flavor": "large"})
	h.createCluster("c1", 3, 1, 5)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterUpdate, "c1", map[string]interface{}{
		"profile_id": "prof-2",
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	cluster := h.cluster("c1")
	assert.Equal(t, "prof-2", cluster.ProfileID)
	assert.Equal(t, types.ClusterStatusActive, cluster.Status)
	for _, n := range h.nodes("c1") {
		assert.Equal(t, "prof-2", n.ProfileID)
	}
}

func TestClusterUpdateInPlace(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 1, 0, 2)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterUpdate, "c1", map[string]interface{}{
		"name":     "renamed",
		"metadata": map[string]interface{}{"env": "prod"},
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	rec, err := h.store.GetAction(a.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.DependsOn, "name/metadata update must not spawn children")

	cluster := h.cluster("c1")
	assert.Equal(t, "renamed", cluster.Name)
	assert.Equal(t, "prod", cluster.Metadata["env"])
}

func TestClusterDeleteRemovesEverything(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 3, 1, 4)
	h.runAction(types.ClusterCreate, "c1", nil)

	a := h.runAction(types.ClusterDelete, "c1", nil)
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	_, err := h.store.GetCluster("c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, h.nodes("c1"))

	deletes, err := h.store.ListActions(storage.ActionFilter{Action: types.NodeDelete})
	require.NoError(t, err)
	require.Len(t, deletes, 3)
	for _, d := range deletes {
		assert.Equal(t, types.ActionStatusSucceeded, d.Status)
	}
}

func TestAttachAndDetachPolicyActions(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 1, 0, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	require.NoError(t, h.store.CreatePolicy(&types.Policy{
		ID:   "pol-zone",
		Type: policy.ZonePlacementName,
		Spec: map[string]interface{}{"zones": []interface{}{"az1", "az2"}},
	}))

	a := h.runAction(types.ClusterAttachPolicy, "c1", map[string]interface{}{
		"policy_id": "pol-zone",
		"priority":  20,
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	binding, err := h.store.GetBinding("c1", "pol-zone")
	require.NoError(t, err)
	assert.Equal(t, 20, binding.Priority)
	assert.True(t, binding.Enabled)

	a = h.runAction(types.ClusterDetachPolicy, "c1", map[string]interface{}{
		"policy_id": "pol-zone",
	})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	_, err = h.store.GetBinding("c1", "pol-zone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAttachSingletonTwiceFails(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 1, 0, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	for i, id := range []string{"pol-a", "pol-b"} {
		require.NoError(t, h.store.CreatePolicy(&types.Policy{
			ID:   id,
			Type: policy.ScalingOutName,
			Spec: map[string]interface{}{
				"adjustment": map[string]interface{}{"type": types.ChangeInCapacity, "number": i + 1},
			},
		}))
	}

	a := h.runAction(types.ClusterAttachPolicy, "c1", map[string]interface{}{"policy_id": "pol-a"})
	assert.Equal(t, types.ActionStatusSucceeded, a.Status)

	a = h.runAction(types.ClusterAttachPolicy, "c1", map[string]interface{}{"policy_id": "pol-b"})
	assert.Equal(t, types.ActionStatusFailed, a.Status)
	assert.Contains(t, a.StatusReason, "only one policy of type")
}

func TestCancelSignalBeforeExecution(t *testing.T) {
	h := newHarness(t)
	h.createProfile("prof-1", map[string]interface{}{"flavor": "small"})
	h.createCluster("c1", 1, 0, 3)
	h.runAction(types.ClusterCreate, "c1", nil)

	// Park the action INIT so the signal lands before any worker sees it.
	a := &types.Action{
		ID:        uuid.NewString(),
		Name:      types.ClusterCheck,
		Target:    "c1",
		Action:    types.ClusterCheck,
		Cause:     types.CauseRPCRequest,
		Interval:  -1,
		Timeout:   120,
		Status:    types.ActionStatusInit,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, h.store.CreateAction(a))
	require.NoError(t, h.store.Signal(a.ID, types.SignalCancel))
	a.Status = types.ActionStatusReady
	require.NoError(t, h.store.UpdateActionFields(a))

	final := h.waitTerminal(a.ID)
	assert.Equal(t, types.ActionStatusCancelled, final.Status)
}

func TestCancelledParentFailsRunningChild(t *testing.T) {
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	parent := &types.Action{
		ID:        "parent",
		Target:    "c1",
		Action:    types.ClusterScaleOut,
		Status:    types.ActionStatusRunning,
		Timeout:   120,
		StartTime: time.Now().UTC(),
	}
	child := &types.Action{
		ID:        "child",
		Target:    "n1",
		Action:    types.NodeCreate,
		Status:    types.ActionStatusRunning,
		Timeout:   120,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAction(parent))
	require.NoError(t, s.CreateAction(child))
	require.NoError(t, s.AddDependencies([]string{"child"}, "parent"))
	child.Status = types.ActionStatusRunning
	child.DependedBy = []string{"parent"}
	require.NoError(t, s.UpdateActionFields(child))

	require.NoError(t, s.Signal("parent", types.SignalCancel))

	// The child's next checkpoint observes the cascaded cancel and winds
	// down FAILED, not CANCELLED; only user-initiated cancels end CANCELLED.
	deps := &Deps{Store: s, Sleep: func(time.Duration) {}}
	b := &base{d: deps, a: child}
	res, reason := b.yield()
	assert.Equal(t, ResultError, res)
	assert.Equal(t, "parent cancelled", reason)

	pool := NewPool(deps, 1)
	pool.finalize(child, res, reason)
	rec, err := s.GetAction("child")
	require.NoError(t, err)
	assert.Equal(t, types.ActionStatusFailed, rec.Status)
	assert.Equal(t, "parent cancelled", rec.StatusReason)
}

func TestYieldReportsTimeout(t *testing.T) {
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	deps := &Deps{Store: s, Sleep: func(time.Duration) {}}
	b := &base{d: deps, a: &types.Action{
		ID:        "a1",
		Timeout:   60,
		StartTime: time.Now().UTC().Add(-2 * time.Minute),
	}}

	res, reason := b.yield()
	assert.Equal(t, ResultTimeout, res)
	assert.Equal(t, "TIMEOUT", reason)
}

func TestSuspendParksUntilResume(t *testing.T) {
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	a := &types.Action{
		ID:        "a1",
		Target:    "c1",
		Action:    types.ClusterCheck,
		Status:    types.ActionStatusRunning,
		Timeout:   120,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAction(a))
	require.NoError(t, s.Signal(a.ID, types.SignalSuspend))

	deps := &Deps{Store: s, Sleep: func(time.Duration) { time.Sleep(time.Millisecond) }}
	b := &base{d: deps, a: a}

	done := make(chan Result, 1)
	go func() {
		res, _ := b.yield()
		done <- res
	}()

	// The executor must be parked SUSPENDED before RESUME arrives.
	require.Eventually(t, func() bool {
		status, err := s.CheckStatus(a.ID)
		return err == nil && status == types.ActionStatusSuspended
	}, 5*time.Second, 2*time.Millisecond)

	require.NoError(t, s.Signal(a.ID, types.SignalResume))

	select {
	case res := <-done:
		assert.Equal(t, ResultOK, res)
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not resume")
	}
	status, err := s.CheckStatus(a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActionStatusRunning, status)
}

func TestFinalizeRetryAbandons(t *testing.T) {
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	a := &types.Action{
		ID:        "a1",
		Target:    "c1",
		Action:    types.ClusterCheck,
		Status:    types.ActionStatusReady,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAction(a))
	acquired, err := s.AcquireFirstReady("engine-1", time.Now().UTC())
	require.NoError(t, err)

	deps := &Deps{Store: s, EngineID: "engine-1"}
	pool := NewPool(deps, 1)
	pool.finalize(acquired, ResultRetry, "lock contention")

	rec, err := s.GetAction("a1")
	require.NoError(t, err)
	assert.Equal(t, types.ActionStatusReady, rec.Status)
	assert.Empty(t, rec.Owner)
}

func TestCustomActionFails(t *testing.T) {
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	deps := &Deps{Store: s}
	a := &types.Action{ID: "a1", Action: "WEBHOOK_TRIGGER"}
	exec := New(deps, a)
	_, ok := exec.(*CustomAction)
	require.True(t, ok)

	res, reason := execute(exec)
	assert.Equal(t, ResultError, res)
	assert.Contains(t, reason, "unsupported action")
}

func TestInputCoercion(t *testing.T) {
	a := &types.Action{Inputs: map[string]interface{}{
		"count":  float64(3),
		"strict": true,
		"name":   "web",
		"nodes":  []interface{}{"n1", "n2"},
	}}
	assert.Equal(t, 3, intInput(a, "count", 0))
	assert.Equal(t, 7, intInput(a, "missing", 7))
	assert.True(t, boolInput(a, "strict", false))
	assert.Equal(t, "web", stringInput(a, "name"))
	assert.Equal(t, []string{"n1", "n2"}, stringListInput(a, "nodes"))
	assert.Equal(t, fmt.Sprintf("node_create-%s", "n1"), childName(types.NodeCreate, "n1"))
}
