package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

func newTestService(t *testing.T) (*Service, *storage.BoltStore) {
	t.Helper()
	s, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	profiles := profile.NewRegistry()
	profiles.Register(profile.FakeType())

	policies := policy.NewRegistry()
	policies.Register(policy.ScalingInType())
	policies.Register(policy.ScalingOutType())

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewService(s, profiles, policies, broker, config.Default()), s
}

func seedProfile(t *testing.T, svc *Service) *types.Profile {
	t.Helper()
	p, err := svc.ProfileCreate(ProfileCreateRequest{
		Name: "web-server",
		Type: profile.FakeTypeName,
		Spec: map[string]interface{}{"flavor": "small"},
	})
	require.NoError(t, err)
	return p
}

func seedCluster(t *testing.T, svc *Service) *types.Cluster {
	t.Helper()
	p := seedProfile(t, svc)
	c, actionID, err := svc.ClusterCreate(ClusterCreateRequest{
		Name:            "web",
		ProfileID:       p.ID,
		DesiredCapacity: 2,
		MinSize:         1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, actionID)
	return c
}

func TestClusterCreateQueuesAction(t *testing.T) {
	svc, s := newTestService(t)
	p := seedProfile(t, svc)

	c, actionID, err := svc.ClusterCreate(ClusterCreateRequest{
		Name:            "web",
		ProfileID:       p.ID,
		DesiredCapacity: 2,
		MinSize:         1,
		Timeout:         120,
	})
	require.NoError(t, err)

	stored, err := s.GetCluster(c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterStatusInit, stored.Status)
	assert.Equal(t, -1, stored.MaxSize)
	assert.Equal(t, 1, stored.NextIndex)

	a, err := s.GetAction(actionID)
	require.NoError(t, err)
	assert.Equal(t, types.ClusterCreate, a.Action)
	assert.Equal(t, types.ActionStatusReady, a.Status)
	assert.Equal(t, types.CauseRPCRequest, a.Cause)
	assert.Equal(t, 120, a.Timeout)
}

func TestClusterCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	p := seedProfile(t, svc)
	three := 3

	cases := []struct {
		name string
		req  ClusterCreateRequest
	}{
		{"missing profile", ClusterCreateRequest{Name: "web", ProfileID: "nope"}},
		{"negative min", ClusterCreateRequest{Name: "web", ProfileID: p.ID, MinSize: -1}},
		{"desired below min", ClusterCreateRequest{Name: "web", ProfileID: p.ID, MinSize: 2, DesiredCapacity: 1}},
		{"desired above max", ClusterCreateRequest{Name: "web", ProfileID: p.ID, DesiredCapacity: 5, MaxSize: &three}},
		{"empty name", ClusterCreateRequest{ProfileID: p.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.ClusterCreate(tc.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestClusterResizeValidation(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)
	five := 5

	_, err := svc.ClusterResize(c.ID, ClusterResizeRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterResize(c.ID, ClusterResizeRequest{AdjustmentType: "BOGUS", Number: &five})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterResize(c.ID, ClusterResizeRequest{AdjustmentType: types.ExactCapacity})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterResize(c.ID, ClusterResizeRequest{Number: &five})
	assert.ErrorIs(t, err, ErrValidation)

	actionID, err := svc.ClusterResize(c.ID, ClusterResizeRequest{
		AdjustmentType: types.ExactCapacity,
		Number:         &five,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, actionID)
}

func TestClusterResizeBoundsOnlyInputs(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)
	min, max := 1, 6

	actionID, err := svc.ClusterResize(c.ID, ClusterResizeRequest{MinSize: &min, MaxSize: &max})
	require.NoError(t, err)

	a, err := s.GetAction(actionID)
	require.NoError(t, err)
	assert.NotContains(t, a.Inputs, "adjustment_type")
	assert.Equal(t, float64(6), a.Inputs["max_size"])
}

func TestScaleRejectsNegativeCount(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)

	_, err := svc.ClusterScaleOut(c.ID, -1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterScaleIn(c.ID, -1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAddNodesRejectsMembers(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	member := &types.Node{ID: "n-member", Name: "m", ProfileID: c.ProfileID, ClusterID: "elsewhere"}
	require.NoError(t, s.CreateNode(member))

	_, err := svc.ClusterAddNodes(c.ID, []string{member.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterAddNodes(c.ID, []string{"ghost"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterAddNodes(c.ID, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelNodesRequiresMembership(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	orphan := &types.Node{ID: "n-orphan", Name: "o", ProfileID: c.ProfileID, Index: -1}
	require.NoError(t, s.CreateNode(orphan))

	_, err := svc.ClusterDelNodes(c.ID, []string{orphan.ID}, false)
	assert.ErrorIs(t, err, ErrValidation)

	member := &types.Node{ID: "n1", Name: "n1", ProfileID: c.ProfileID, ClusterID: c.ID, Index: 1}
	require.NoError(t, s.CreateNode(member))

	actionID, err := svc.ClusterDelNodes(c.ID, []string{member.ID}, true)
	require.NoError(t, err)

	a, err := s.GetAction(actionID)
	require.NoError(t, err)
	assert.Equal(t, true, a.Inputs["destroy_after_deletion"])
}

func TestClusterDeleteConflictsWhenLocked(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	require.NoError(t, s.ClusterLockAcquire(c.ID, "some-action", types.LockExclusive))
	_, err := svc.ClusterDelete(c.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, s.ClusterLockRelease(c.ID, "some-action", types.LockExclusive))
	_, err = svc.ClusterDelete(c.ID)
	assert.NoError(t, err)
}

func TestNodeCreateIntoClusterAssignsIndex(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	n, actionID, err := svc.NodeCreate(NodeCreateRequest{
		Name:      "web-extra",
		ProfileID: c.ProfileID,
		ClusterID: c.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n.Index)
	assert.NotEmpty(t, actionID)

	stored, err := s.GetCluster(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.NextIndex)
}

func TestNodeCreateChecksProfileTypeMatch(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)

	_, _, err := svc.NodeCreate(NodeCreateRequest{
		Name:      "weird",
		ProfileID: "missing",
		ClusterID: c.ID,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProfileDeleteConflictWhenReferenced(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)

	err := svc.ProfileDelete(c.ProfileID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestProfileCreateRejectsBadSpec(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ProfileCreate(ProfileCreateRequest{
		Name: "bad",
		Type: profile.FakeTypeName,
		Spec: map[string]interface{}{},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPolicyDeleteConflictWhenAttached(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	p, err := svc.PolicyCreate(PolicyCreateRequest{
		Name: "scale-in",
		Type: policy.ScalingInName,
		Spec: map[string]interface{}{"adjustment": map[string]interface{}{}},
	})
	require.NoError(t, err)

	require.NoError(t, s.CreateBinding(&types.ClusterPolicy{
		ClusterID: c.ID,
		PolicyID:  p.ID,
		Priority:  50,
		Enabled:   true,
	}))

	err = svc.PolicyDelete(p.ID)
	assert.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, s.DeleteBinding(c.ID, p.ID))
	assert.NoError(t, svc.PolicyDelete(p.ID))
}

func TestPolicyAttachValidatesTarget(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)

	_, err := svc.PolicyAttach(c.ID, "ghost", 50, true)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.PolicyAttach("ghost", "ghost", 50, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActionSignalValidation(t *testing.T) {
	svc, s := newTestService(t)
	c := seedCluster(t, svc)

	actionID, err := svc.ClusterCheck(c.ID, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ActionSignal(actionID, "EXPLODE"), ErrValidation)
	assert.ErrorIs(t, svc.ActionSignal("ghost", types.SignalCancel), storage.ErrNotFound)
	require.NoError(t, svc.ActionSignal(actionID, types.SignalCancel))

	sig, err := s.SignalQuery(actionID)
	require.NoError(t, err)
	assert.Equal(t, types.SignalCancel, sig)
}

func TestClusterUpdateRejectsTypeChange(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedCluster(t, svc)

	_, err := svc.ClusterUpdate(c.ID, ClusterUpdateRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ClusterUpdate(c.ID, ClusterUpdateRequest{ProfileID: "ghost"})
	assert.ErrorIs(t, err, ErrValidation)

	actionID, err := svc.ClusterUpdate(c.ID, ClusterUpdateRequest{Name: "web-2"})
	require.NoError(t, err)
	assert.NotEmpty(t, actionID)
}
