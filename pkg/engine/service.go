package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// ErrValidation marks request errors the REST layer maps to 400. Wrap it
// with fmt.Errorf("%w: ...") so errors.Is keeps working.
var ErrValidation = errors.New("validation error")

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Service is the request-validation front of one engine. It turns
// external requests into records and READY actions; the dispatcher and
// worker pool do the rest. Service also satisfies the health manager's
// Requester contract, so detection failures re-enter through the same
// validated paths as user requests.
type Service struct {
	store    storage.Store
	profiles *profile.Registry
	policies *policy.Registry
	broker   *events.Broker
	cfg      *config.Config

	nowFn func() time.Time
}

// NewService builds the request front over the given collaborators.
func NewService(store storage.Store, profiles *profile.Registry, policies *policy.Registry, broker *events.Broker, cfg *config.Config) *Service {
	return &Service{
		store:    store,
		profiles: profiles,
		policies: policies,
		broker:   broker,
		cfg:      cfg,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// createAction persists a READY action and wakes the dispatcher.
func (s *Service) createAction(target, verb string, timeout int, inputs map[string]interface{}) (string, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultActionTimeout
	}
	now := s.nowFn()
	a := &types.Action{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s-%s", verb, target[:8]),
		Target:    target,
		Action:    verb,
		Cause:     types.CauseRPCRequest,
		Interval:  -1,
		Timeout:   timeout,
		Status:    types.ActionStatusReady,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAction(a); err != nil {
		return "", err
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventActionReady,
			Message:  verb,
			Metadata: map[string]string{"action_id": a.ID, "target": target},
		})
	}
	return a.ID, nil
}

// clusterTimeout picks the action timeout for a cluster-scoped verb.
func clusterTimeout(c *types.Cluster, cfg *config.Config) int {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return cfg.DefaultActionTimeout
}

// ClusterCreateRequest carries the POST /clusters body.
type ClusterCreateRequest struct {
	Name            string            `json:"name" binding:"required"`
	ProfileID       string            `json:"profile_id" binding:"required"`
	DesiredCapacity int               `json:"desired_capacity"`
	MinSize         int               `json:"min_size"`
	MaxSize         *int              `json:"max_size"`
	Timeout         int               `json:"timeout"`
	Metadata        map[string]string `json:"metadata"`
}

// ClusterCreate validates the request, persists the INIT cluster record
// and queues CLUSTER_CREATE.
func (s *Service) ClusterCreate(req ClusterCreateRequest) (*types.Cluster, string, error) {
	if req.Name == "" {
		return nil, "", validationErr("cluster name is required")
	}
	if _, err := s.store.GetProfile(req.ProfileID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", validationErr("profile %s not found", req.ProfileID)
		}
		return nil, "", err
	}

	maxSize := -1
	if req.MaxSize != nil {
		maxSize = *req.MaxSize
	}
	if req.MinSize < 0 {
		return nil, "", validationErr("min_size cannot be negative")
	}
	if maxSize != -1 && maxSize < req.MinSize {
		return nil, "", validationErr("max_size must be greater than or equal to min_size")
	}
	if req.DesiredCapacity < req.MinSize {
		return nil, "", validationErr("desired_capacity must be greater than or equal to min_size")
	}
	if maxSize != -1 && req.DesiredCapacity > maxSize {
		return nil, "", validationErr("desired_capacity must be less than or equal to max_size")
	}

	now := s.nowFn()
	c := &types.Cluster{
		ID:              uuid.NewString(),
		Name:            req.Name,
		ProfileID:       req.ProfileID,
		InitAt:          now,
		MinSize:         req.MinSize,
		MaxSize:         maxSize,
		DesiredCapacity: req.DesiredCapacity,
		NextIndex:       1,
		Timeout:         req.Timeout,
		Status:          types.ClusterStatusInit,
		StatusReason:    "Initializing",
		Metadata:        req.Metadata,
	}
	if err := s.store.CreateCluster(c); err != nil {
		return nil, "", err
	}
	actionID, err := s.createAction(c.ID, types.ClusterCreate, clusterTimeout(c, s.cfg), nil)
	if err != nil {
		return nil, "", err
	}
	return c, actionID, nil
}

// ClusterGet returns the cluster record.
func (s *Service) ClusterGet(id string) (*types.Cluster, error) {
	return s.store.GetCluster(id)
}

// ClusterList returns clusters matching the filter.
func (s *Service) ClusterList(f storage.ClusterFilter) ([]*types.Cluster, error) {
	if f.Limit <= 0 || f.Limit > s.cfg.MaxResponseSize {
		f.Limit = s.cfg.MaxResponseSize
	}
	return s.store.ListClusters(f)
}

// ClusterUpdateRequest carries the PATCH /clusters/{id} body. Nil fields
// are left untouched.
type ClusterUpdateRequest struct {
	Name      string            `json:"name"`
	ProfileID string            `json:"profile_id"`
	Timeout   *int              `json:"timeout"`
	Metadata  map[string]string `json:"metadata"`
}

// ClusterUpdate queues CLUSTER_UPDATE. A profile change is validated to
// reference an existing profile of the same type as the current one.
func (s *Service) ClusterUpdate(id string, req ClusterUpdateRequest) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	inputs := map[string]interface{}{}
	if req.Name != "" {
		inputs["name"] = req.Name
	}
	if req.ProfileID != "" {
		newProfile, err := s.store.GetProfile(req.ProfileID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", validationErr("profile %s not found", req.ProfileID)
			}
			return "", err
		}
		current, err := s.store.GetProfile(c.ProfileID)
		if err != nil {
			return "", err
		}
		if newProfile.Type != current.Type {
			return "", validationErr("new profile type %s does not match %s", newProfile.Type, current.Type)
		}
		inputs["profile_id"] = req.ProfileID
	}
	if req.Timeout != nil {
		inputs["timeout"] = *req.Timeout
	}
	if req.Metadata != nil {
		md := map[string]interface{}{}
		for k, v := range req.Metadata {
			md[k] = v
		}
		inputs["metadata"] = md
	}
	if len(inputs) == 0 {
		return "", validationErr("no property to update")
	}
	return s.createAction(id, types.ClusterUpdate, clusterTimeout(c, s.cfg), inputs)
}

// ClusterDelete queues CLUSTER_DELETE. A cluster currently locked by a
// running action is rejected as a conflict rather than queued behind it.
func (s *Service) ClusterDelete(id string) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	owners, err := s.store.ClusterLockOwners(id)
	if err == nil && len(owners) > 0 {
		return "", fmt.Errorf("%w: cluster %s is busy with another action", storage.ErrConflict, id)
	}
	return s.createAction(id, types.ClusterDelete, clusterTimeout(c, s.cfg), nil)
}

// ClusterResizeRequest carries the resize parameters; nil pointers mean
// the key was absent, which the executor treats as "leave unchanged".
type ClusterResizeRequest struct {
	AdjustmentType string `json:"adjustment_type"`
	Number         *int   `json:"number"`
	MinStep        *int   `json:"min_step"`
	Strict         *bool  `json:"strict"`
	MinSize        *int   `json:"min_size"`
	MaxSize        *int   `json:"max_size"`
}

// ClusterResize validates the parameter combination and queues
// CLUSTER_RESIZE.
func (s *Service) ClusterResize(id string, req ClusterResizeRequest) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	switch req.AdjustmentType {
	case "", types.ExactCapacity, types.ChangeInCapacity, types.ChangeInPercentage:
	default:
		return "", validationErr("invalid adjustment_type %q", req.AdjustmentType)
	}
	if req.AdjustmentType != "" && req.Number == nil {
		return "", validationErr("number is required when adjustment_type is set")
	}
	if req.AdjustmentType == "" && req.Number != nil {
		return "", validationErr("number requires an adjustment_type")
	}
	if req.AdjustmentType == "" && req.MinSize == nil && req.MaxSize == nil {
		return "", validationErr("at least one of adjustment_type, min_size or max_size is required")
	}
	if req.MinSize != nil && *req.MinSize < 0 {
		return "", validationErr("min_size cannot be negative")
	}
	if req.MinSize != nil && req.MaxSize != nil && *req.MaxSize != -1 && *req.MaxSize < *req.MinSize {
		return "", validationErr("max_size must be greater than or equal to min_size")
	}

	inputs := map[string]interface{}{}
	if req.AdjustmentType != "" {
		inputs["adjustment_type"] = req.AdjustmentType
		inputs["number"] = *req.Number
	}
	if req.MinStep != nil {
		inputs["min_step"] = *req.MinStep
	}
	if req.Strict != nil {
		inputs["strict"] = *req.Strict
	}
	if req.MinSize != nil {
		inputs["min_size"] = *req.MinSize
	}
	if req.MaxSize != nil {
		inputs["max_size"] = *req.MaxSize
	}
	return s.createAction(id, types.ClusterResize, clusterTimeout(c, s.cfg), inputs)
}

// ClusterScaleOut queues CLUSTER_SCALE_OUT. A zero count defers to the
// attached scaling policy; the executor defaults to 1 with no policy.
func (s *Service) ClusterScaleOut(id string, count int) (string, error) {
	return s.scale(id, types.ClusterScaleOut, count)
}

// ClusterScaleIn queues CLUSTER_SCALE_IN.
func (s *Service) ClusterScaleIn(id string, count int) (string, error) {
	return s.scale(id, types.ClusterScaleIn, count)
}

func (s *Service) scale(id, verb string, count int) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	if count < 0 {
		return "", validationErr("count cannot be negative")
	}
	var inputs map[string]interface{}
	if count > 0 {
		inputs = map[string]interface{}{"count": count}
	}
	return s.createAction(id, verb, clusterTimeout(c, s.cfg), inputs)
}

// ClusterAddNodes validates membership preconditions and queues
// CLUSTER_ADD_NODES.
func (s *Service) ClusterAddNodes(id string, nodeIDs []string) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	if len(nodeIDs) == 0 {
		return "", validationErr("nodes is required")
	}
	for _, nid := range nodeIDs {
		n, err := s.store.GetNode(nid)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", validationErr("node %s not found", nid)
			}
			return "", err
		}
		if n.ClusterID != "" {
			return "", validationErr("node %s is already a member of cluster %s", nid, n.ClusterID)
		}
	}
	inputs := map[string]interface{}{"nodes": toIfaceList(nodeIDs)}
	return s.createAction(id, types.ClusterAddNodes, clusterTimeout(c, s.cfg), inputs)
}

// ClusterDelNodes queues CLUSTER_DEL_NODES. destroy selects deletion of
// the backing resource instead of release to orphan.
func (s *Service) ClusterDelNodes(id string, nodeIDs []string, destroy bool) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	if len(nodeIDs) == 0 {
		return "", validationErr("nodes is required")
	}
	for _, nid := range nodeIDs {
		n, err := s.store.GetNode(nid)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", validationErr("node %s not found", nid)
			}
			return "", err
		}
		if n.ClusterID != id {
			return "", validationErr("node %s is not a member of cluster %s", nid, id)
		}
	}
	inputs := map[string]interface{}{
		"nodes":                  toIfaceList(nodeIDs),
		"destroy_after_deletion": destroy,
	}
	return s.createAction(id, types.ClusterDelNodes, clusterTimeout(c, s.cfg), inputs)
}

// ClusterCheck queues CLUSTER_CHECK. Also called by the health manager
// on every poll tick, hence the Requester-shaped signature.
func (s *Service) ClusterCheck(id string, params map[string]interface{}) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	return s.createAction(id, types.ClusterCheck, clusterTimeout(c, s.cfg), params)
}

// ClusterRecover queues CLUSTER_RECOVER.
func (s *Service) ClusterRecover(id string, params map[string]interface{}) (string, error) {
	c, err := s.store.GetCluster(id)
	if err != nil {
		return "", err
	}
	return s.createAction(id, types.ClusterRecover, clusterTimeout(c, s.cfg), params)
}

// PolicyAttach queues CLUSTER_ATTACH_POLICY.
func (s *Service) PolicyAttach(clusterID, policyID string, priority int, enabled bool) (string, error) {
	c, err := s.store.GetCluster(clusterID)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetPolicy(policyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", validationErr("policy %s not found", policyID)
		}
		return "", err
	}
	if priority < 0 || priority > 100 {
		return "", validationErr("priority must be between 0 and 100")
	}
	inputs := map[string]interface{}{
		"policy_id": policyID,
		"priority":  priority,
		"enabled":   enabled,
	}
	return s.createAction(clusterID, types.ClusterAttachPolicy, clusterTimeout(c, s.cfg), inputs)
}

// PolicyDetach queues CLUSTER_DETACH_POLICY.
func (s *Service) PolicyDetach(clusterID, policyID string) (string, error) {
	c, err := s.store.GetCluster(clusterID)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetBinding(clusterID, policyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", validationErr("policy %s is not attached to cluster %s", policyID, clusterID)
		}
		return "", err
	}
	inputs := map[string]interface{}{"policy_id": policyID}
	return s.createAction(clusterID, types.ClusterDetachPolicy, clusterTimeout(c, s.cfg), inputs)
}

// PolicyUpdateBinding queues CLUSTER_UPDATE_POLICY for priority or
// enabled changes on an existing binding.
func (s *Service) PolicyUpdateBinding(clusterID, policyID string, priority *int, enabled *bool) (string, error) {
	c, err := s.store.GetCluster(clusterID)
	if err != nil {
		return "", err
	}
	if _, err := s.store.GetBinding(clusterID, policyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", validationErr("policy %s is not attached to cluster %s", policyID, clusterID)
		}
		return "", err
	}
	if priority == nil && enabled == nil {
		return "", validationErr("no property to update")
	}
	inputs := map[string]interface{}{"policy_id": policyID}
	if priority != nil {
		if *priority < 0 || *priority > 100 {
			return "", validationErr("priority must be between 0 and 100")
		}
		inputs["priority"] = *priority
	}
	if enabled != nil {
		inputs["enabled"] = *enabled
	}
	return s.createAction(clusterID, types.ClusterUpdatePolicy, clusterTimeout(c, s.cfg), inputs)
}

// BindingList returns the cluster's policy bindings in priority order.
func (s *Service) BindingList(clusterID string) ([]*types.ClusterPolicy, error) {
	if _, err := s.store.GetCluster(clusterID); err != nil {
		return nil, err
	}
	return s.store.ListBindings(clusterID)
}

// BindingGet returns one binding.
func (s *Service) BindingGet(clusterID, policyID string) (*types.ClusterPolicy, error) {
	return s.store.GetBinding(clusterID, policyID)
}

// NodeCreateRequest carries the POST /nodes body.
type NodeCreateRequest struct {
	Name      string            `json:"name" binding:"required"`
	ProfileID string            `json:"profile_id" binding:"required"`
	ClusterID string            `json:"cluster_id"`
	Role      string            `json:"role"`
	Metadata  map[string]string `json:"metadata"`
}

// NodeCreate persists the INIT node record and queues NODE_CREATE. A
// node created into a cluster gets its index up front so the name and
// index never change later.
func (s *Service) NodeCreate(req NodeCreateRequest) (*types.Node, string, error) {
	if req.Name == "" {
		return nil, "", validationErr("node name is required")
	}
	p, err := s.store.GetProfile(req.ProfileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", validationErr("profile %s not found", req.ProfileID)
		}
		return nil, "", err
	}

	index := -1
	if req.ClusterID != "" {
		c, err := s.store.GetCluster(req.ClusterID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, "", validationErr("cluster %s not found", req.ClusterID)
			}
			return nil, "", err
		}
		cp, err := s.store.GetProfile(c.ProfileID)
		if err != nil {
			return nil, "", err
		}
		if cp.Type != p.Type {
			return nil, "", validationErr("node profile type %s does not match cluster profile type %s", p.Type, cp.Type)
		}
		index, err = s.store.NextClusterIndex(req.ClusterID)
		if err != nil {
			return nil, "", err
		}
	}

	now := s.nowFn()
	n := &types.Node{
		ID:           uuid.NewString(),
		Name:         req.Name,
		ProfileID:    req.ProfileID,
		ClusterID:    req.ClusterID,
		Index:        index,
		Role:         req.Role,
		InitAt:       now,
		Status:       types.NodeStatusInit,
		StatusReason: "Initializing",
		Metadata:     req.Metadata,
	}
	if err := s.store.CreateNode(n); err != nil {
		return nil, "", err
	}
	actionID, err := s.createAction(n.ID, types.NodeCreate, s.cfg.DefaultActionTimeout, nil)
	if err != nil {
		return nil, "", err
	}
	return n, actionID, nil
}

// NodeGet returns the node record.
func (s *Service) NodeGet(id string) (*types.Node, error) {
	return s.store.GetNode(id)
}

// NodeList returns nodes matching the filter.
func (s *Service) NodeList(f storage.NodeFilter) ([]*types.Node, error) {
	if f.Limit <= 0 || f.Limit > s.cfg.MaxResponseSize {
		f.Limit = s.cfg.MaxResponseSize
	}
	return s.store.ListNodes(f)
}

// NodeUpdateRequest carries the PATCH /nodes/{id} body.
type NodeUpdateRequest struct {
	Name      string            `json:"name"`
	ProfileID string            `json:"profile_id"`
	Role      string            `json:"role"`
	Metadata  map[string]string `json:"metadata"`
}

// NodeUpdate queues NODE_UPDATE.
func (s *Service) NodeUpdate(id string, req NodeUpdateRequest) (string, error) {
	n, err := s.store.GetNode(id)
	if err != nil {
		return "", err
	}
	inputs := map[string]interface{}{}
	if req.Name != "" {
		inputs["name"] = req.Name
	}
	if req.Role != "" {
		inputs["role"] = req.Role
	}
	if req.ProfileID != "" {
		newProfile, err := s.store.GetProfile(req.ProfileID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", validationErr("profile %s not found", req.ProfileID)
			}
			return "", err
		}
		current, err := s.store.GetProfile(n.ProfileID)
		if err != nil {
			return "", err
		}
		if newProfile.Type != current.Type {
			return "", validationErr("new profile type %s does not match %s", newProfile.Type, current.Type)
		}
		inputs["profile_id"] = req.ProfileID
	}
	if req.Metadata != nil {
		md := map[string]interface{}{}
		for k, v := range req.Metadata {
			md[k] = v
		}
		inputs["metadata"] = md
	}
	if len(inputs) == 0 {
		return "", validationErr("no property to update")
	}
	return s.createAction(id, types.NodeUpdate, s.cfg.DefaultActionTimeout, inputs)
}

// NodeDelete queues NODE_DELETE.
func (s *Service) NodeDelete(id string) (string, error) {
	if _, err := s.store.GetNode(id); err != nil {
		return "", err
	}
	owners, err := s.store.NodeLockOwners(id)
	if err == nil && len(owners) > 0 {
		return "", fmt.Errorf("%w: node %s is busy with another action", storage.ErrConflict, id)
	}
	return s.createAction(id, types.NodeDelete, s.cfg.DefaultActionTimeout, nil)
}

// NodeCheck queues NODE_CHECK.
func (s *Service) NodeCheck(id string, params map[string]interface{}) (string, error) {
	if _, err := s.store.GetNode(id); err != nil {
		return "", err
	}
	return s.createAction(id, types.NodeCheck, s.cfg.DefaultActionTimeout, params)
}

// NodeRecover queues NODE_RECOVER. Also the health manager's entry for
// lifecycle-event triggered recoveries.
func (s *Service) NodeRecover(id string, params map[string]interface{}) (string, error) {
	if _, err := s.store.GetNode(id); err != nil {
		return "", err
	}
	return s.createAction(id, types.NodeRecover, s.cfg.DefaultActionTimeout, params)
}

// ProfileCreateRequest carries the POST /profiles body.
type ProfileCreateRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Type     string                 `json:"type" binding:"required"`
	Spec     map[string]interface{} `json:"spec" binding:"required"`
	Metadata map[string]string      `json:"metadata"`
}

// ProfileCreate validates the spec against the type schema and persists
// the profile.
func (s *Service) ProfileCreate(req ProfileCreateRequest) (*types.Profile, error) {
	now := s.nowFn()
	p := &types.Profile{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Spec:      req.Spec,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profiles.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.store.CreateProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProfileGet returns the profile record.
func (s *Service) ProfileGet(id string) (*types.Profile, error) {
	return s.store.GetProfile(id)
}

// ProfileList returns all profiles.
func (s *Service) ProfileList() ([]*types.Profile, error) {
	return s.store.ListProfiles()
}

// ProfileUpdate changes name and metadata. The spec is immutable; a new
// profile plus CLUSTER_UPDATE is the way to change node configuration.
func (s *Service) ProfileUpdate(id, name string, metadata map[string]string) (*types.Profile, error) {
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, err
	}
	if name == "" && metadata == nil {
		return nil, validationErr("no property to update")
	}
	if name != "" {
		p.Name = name
	}
	if metadata != nil {
		p.Metadata = metadata
	}
	p.UpdatedAt = s.nowFn()
	if err := s.store.UpdateProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProfileDelete removes an unreferenced profile.
func (s *Service) ProfileDelete(id string) error {
	if _, err := s.store.GetProfile(id); err != nil {
		return err
	}
	clusters, err := s.store.ListClusters(storage.ClusterFilter{})
	if err != nil {
		return err
	}
	for _, c := range clusters {
		if c.ProfileID == id {
			return fmt.Errorf("%w: profile %s is used by cluster %s", storage.ErrConflict, id, c.ID)
		}
	}
	nodes, err := s.store.ListNodes(storage.NodeFilter{})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.ProfileID == id {
			return fmt.Errorf("%w: profile %s is used by node %s", storage.ErrConflict, id, n.ID)
		}
	}
	return s.store.DeleteProfile(id)
}

// PolicyCreateRequest carries the POST /policies body.
type PolicyCreateRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Type     string                 `json:"type" binding:"required"`
	Spec     map[string]interface{} `json:"spec" binding:"required"`
	Cooldown int                    `json:"cooldown"`
}

// PolicyCreate validates the spec against the policy type schema and
// persists the policy.
func (s *Service) PolicyCreate(req PolicyCreateRequest) (*types.Policy, error) {
	if req.Cooldown < 0 {
		return nil, validationErr("cooldown cannot be negative")
	}
	now := s.nowFn()
	p := &types.Policy{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Spec:      req.Spec,
		Cooldown:  req.Cooldown,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.policies.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if err := s.store.CreatePolicy(p); err != nil {
		return nil, err
	}
	return p, nil
}

// PolicyGet returns the policy record.
func (s *Service) PolicyGet(id string) (*types.Policy, error) {
	return s.store.GetPolicy(id)
}

// PolicyList returns all policies.
func (s *Service) PolicyList() ([]*types.Policy, error) {
	return s.store.ListPolicies()
}

// PolicyUpdate renames a policy. Spec and type are immutable.
func (s *Service) PolicyUpdate(id, name string) (*types.Policy, error) {
	p, err := s.store.GetPolicy(id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, validationErr("no property to update")
	}
	p.Name = name
	p.UpdatedAt = s.nowFn()
	if err := s.store.UpdatePolicy(p); err != nil {
		return nil, err
	}
	return p, nil
}

// PolicyDelete removes a policy that is not attached to any cluster.
func (s *Service) PolicyDelete(id string) error {
	if _, err := s.store.GetPolicy(id); err != nil {
		return err
	}
	bindings, err := s.store.ListBindingsByPolicy(id)
	if err != nil {
		return err
	}
	if len(bindings) > 0 {
		return fmt.Errorf("%w: policy %s is attached to %d cluster(s)", storage.ErrConflict, id, len(bindings))
	}
	return s.store.DeletePolicy(id)
}

// ActionGet returns the action record backing a location URL.
func (s *Service) ActionGet(id string) (*types.Action, error) {
	return s.store.GetAction(id)
}

// ActionList returns actions matching the filter.
func (s *Service) ActionList(f storage.ActionFilter) ([]*types.Action, error) {
	if f.Limit <= 0 || f.Limit > s.cfg.MaxResponseSize {
		f.Limit = s.cfg.MaxResponseSize
	}
	return s.store.ListActions(f)
}

// ActionSignal delivers CANCEL, SUSPEND or RESUME to an action.
func (s *Service) ActionSignal(id string, sig types.Signal) error {
	switch sig {
	case types.SignalCancel, types.SignalSuspend, types.SignalResume:
	default:
		return validationErr("invalid signal %q", string(sig))
	}
	if _, err := s.store.GetAction(id); err != nil {
		return err
	}
	return s.store.Signal(id, sig)
}

// EventList returns audit events matching the filter.
func (s *Service) EventList(f storage.EventFilter) ([]*types.Event, error) {
	if f.Limit <= 0 || f.Limit > s.cfg.MaxResponseSize {
		f.Limit = s.cfg.MaxResponseSize
	}
	return s.store.ListEvents(f)
}

func toIfaceList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
