package policy

import (
	"fmt"

	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// LoadBalanceName is the load-balance policy type name.
const LoadBalanceName = "loadbalance-1.0"

var lbSchema = map[string]*schema.Schema{
	"pool": {
		Type:        schema.Map,
		Description: "Backend pool configuration",
		Body: map[string]*schema.Schema{
			"protocol": {
				Type:    schema.String,
				Default: "HTTP",
			},
			"protocol_port": {
				Type:    schema.Integer,
				Default: 80,
			},
		},
	},
	"vip": {
		Type:        schema.Map,
		Description: "Virtual IP configuration",
		Body: map[string]*schema.Schema{
			"subnet": {
				Type:     schema.String,
				Required: true,
			},
			"protocol_port": {
				Type:    schema.Integer,
				Default: 80,
			},
		},
	},
}

// LoadBalanceType keeps an external load balancer's member set in sync
// with cluster membership. The LB backend is reached through the injected
// LBDriver; member bookkeeping lives in the binding data. Driver failures
// surface as CHECK_ERROR rather than failing the whole action chain
// fatally.
func LoadBalanceType() *Type {
	t := &Type{
		Name:      LoadBalanceName,
		Version:   "1.0",
		Singleton: true,
		Schema:    lbSchema,
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return &lbPolicy{
			Base: Base{Targets: []Target{
				{When: types.PolicyBefore, Action: types.ClusterDelNodes},
				{When: types.PolicyBefore, Action: types.ClusterScaleIn},
				{When: types.PolicyBefore, Action: types.NodeDelete},
				{When: types.PolicyAfter, Action: types.ClusterScaleOut},
				{When: types.PolicyAfter, Action: types.ClusterAddNodes},
				{When: types.PolicyAfter, Action: types.ClusterResize},
			}},
			rec:  rec,
			spec: specOf(t, rec),
		}, nil
	}
	return t
}

type lbPolicy struct {
	Base
	rec  *types.Policy
	spec *schema.Spec
}

func (p *lbPolicy) Attach(pc *Context, cluster *types.Cluster) (map[string]interface{}, error) {
	if pc.LB == nil {
		return nil, fmt.Errorf("load-balancer driver is not available")
	}
	resources, err := pc.LB.CreateLoadBalancer(cluster.ID, p.spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer: %w", err)
	}

	members := make(map[string]interface{})
	nodes, err := pc.Store.ListNodes(storage.NodeFilter{ClusterID: cluster.ID})
	if err == nil {
		for _, node := range nodes {
			memberID, err := pc.LB.AddMember(resources, node)
			if err != nil {
				// Roll back so a failed attach leaves no orphan LB.
				_ = pc.LB.DeleteLoadBalancer(resources)
				return nil, fmt.Errorf("failed to add member for node %s: %w", node.ID, err)
			}
			members[node.ID] = memberID
		}
	}

	return map[string]interface{}{
		"resources": resources,
		"members":   members,
	}, nil
}

func (p *lbPolicy) Detach(pc *Context, cluster *types.Cluster) error {
	if pc.LB == nil {
		return nil
	}
	binding, err := pc.Store.GetBinding(cluster.ID, p.rec.ID)
	if err != nil {
		return nil
	}
	resources, members := p.bindingState(binding)
	for _, memberID := range members {
		_ = pc.LB.RemoveMember(resources, memberID)
	}
	if resources != nil {
		if err := pc.LB.DeleteLoadBalancer(resources); err != nil {
			return fmt.Errorf("failed to delete load balancer: %w", err)
		}
	}
	return nil
}

// PreOp removes the members for nodes about to leave the cluster.
func (p *lbPolicy) PreOp(pc *Context, clusterID string, a *types.Action) error {
	if pc.LB == nil {
		return nil
	}
	binding, err := pc.Store.GetBinding(clusterID, p.rec.ID)
	if err != nil {
		return nil
	}
	resources, members := p.bindingState(binding)

	var leaving []string
	if a.Action == types.NodeDelete {
		leaving = []string{a.Target}
	} else {
		leaving = DeletionCandidates(a)
	}
	changed := false
	for _, nodeID := range leaving {
		memberID, ok := members[nodeID]
		if !ok {
			continue
		}
		if err := pc.LB.RemoveMember(resources, memberID); err != nil {
			SetStatus(a, types.CheckError, fmt.Sprintf("failed to remove member for node %s: %v", nodeID, err))
			return nil
		}
		delete(members, nodeID)
		changed = true
	}
	if changed {
		p.saveMembers(pc, binding, resources, members)
	}
	return nil
}

// PostOp adds members for nodes that joined during the action.
func (p *lbPolicy) PostOp(pc *Context, clusterID string, a *types.Action) error {
	if pc.LB == nil {
		return nil
	}
	binding, err := pc.Store.GetBinding(clusterID, p.rec.ID)
	if err != nil {
		return nil
	}
	resources, members := p.bindingState(binding)

	nodes, err := pc.Store.ListNodes(storage.NodeFilter{ClusterID: clusterID})
	if err != nil {
		return err
	}
	changed := false
	for _, node := range nodes {
		if _, ok := members[node.ID]; ok {
			continue
		}
		memberID, err := pc.LB.AddMember(resources, node)
		if err != nil {
			SetStatus(a, types.CheckError, fmt.Sprintf("failed to add member for node %s: %v", node.ID, err))
			return nil
		}
		members[node.ID] = memberID
		changed = true
	}
	if changed {
		p.saveMembers(pc, binding, resources, members)
	}
	return nil
}

func (p *lbPolicy) bindingState(b *types.ClusterPolicy) (map[string]interface{}, map[string]string) {
	resources, _ := b.Data["resources"].(map[string]interface{})
	raw, _ := b.Data["members"].(map[string]interface{})
	members := make(map[string]string, len(raw))
	for nodeID, v := range raw {
		if memberID, ok := v.(string); ok {
			members[nodeID] = memberID
		}
	}
	return resources, members
}

func (p *lbPolicy) saveMembers(pc *Context, b *types.ClusterPolicy, resources map[string]interface{}, members map[string]string) {
	asMap := make(map[string]interface{}, len(members))
	for nodeID, memberID := range members {
		asMap[nodeID] = memberID
	}
	if b.Data == nil {
		b.Data = make(map[string]interface{})
	}
	b.Data["resources"] = resources
	b.Data["members"] = asMap
	_ = pc.Store.UpdateBinding(b)
}
