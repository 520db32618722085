package policy

import (
	"fmt"

	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/types"
)

// HealthName is the health policy type name.
const HealthName = "health-1.0"

var healthSchema = map[string]*schema.Schema{
	"detection": {
		Type:        schema.Map,
		Description: "How node failures are detected",
		Required:    true,
		Body: map[string]*schema.Schema{
			"type": {
				Type:     schema.String,
				Required: true,
				Constraints: []schema.Constraint{
					schema.AllowedValues{Values: []interface{}{
						string(types.NodeStatusPolling), string(types.LifecycleEvents),
					}},
				},
			},
			"interval": {
				Type:    schema.Integer,
				Default: 60,
			},
		},
	},
	"recovery": {
		Type:        schema.Map,
		Description: "Recovery parameters passed to node_recover",
		Body: map[string]*schema.Schema{
			"operation": {
				Type:    schema.String,
				Default: "recreate",
			},
		},
	},
}

// Verbs that remove cluster members; health checking pauses around them
// so the manager does not try to recover a node being deleted on purpose.
var memberRemovingVerbs = []string{
	types.ClusterScaleIn,
	types.ClusterDelNodes,
	types.ClusterResize,
	types.NodeDelete,
}

// HealthType enrolls clusters with the health manager on attach and
// pauses detection around member-removing verbs.
func HealthType() *Type {
	t := &Type{
		Name:      HealthName,
		Version:   "1.0",
		Singleton: true,
		Schema:    healthSchema,
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		targets := make([]Target, 0, 2*len(memberRemovingVerbs))
		for _, verb := range memberRemovingVerbs {
			targets = append(targets,
				Target{When: types.PolicyBefore, Action: verb},
				Target{When: types.PolicyAfter, Action: verb})
		}
		spec := specOf(t, rec)
		detection := spec.GetMap("detection")
		p := &healthPolicy{
			Base:     Base{Targets: targets},
			interval: 60,
		}
		if detection != nil {
			if v, ok := detection["type"].(string); ok {
				p.checkType = types.HealthCheckType(v)
			}
			if v, ok := detection["interval"].(int); ok {
				p.interval = v
			}
		}
		p.recovery = spec.GetMap("recovery")
		return p, nil
	}
	return t
}

type healthPolicy struct {
	Base
	checkType types.HealthCheckType
	interval  int
	recovery  map[string]interface{}
}

func (p *healthPolicy) Attach(pc *Context, cluster *types.Cluster) (map[string]interface{}, error) {
	if pc.Health == nil {
		return nil, fmt.Errorf("health manager is not available")
	}
	err := pc.Health.Register(cluster.ID, p.checkType, p.interval, p.recovery)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"check_type": string(p.checkType),
		"interval":   p.interval,
	}, nil
}

func (p *healthPolicy) Detach(pc *Context, cluster *types.Cluster) error {
	if pc.Health == nil {
		return nil
	}
	return pc.Health.Unregister(cluster.ID)
}

func (p *healthPolicy) PreOp(pc *Context, clusterID string, a *types.Action) error {
	if pc.Health == nil {
		return nil
	}
	return pc.Health.Disable(clusterID)
}

func (p *healthPolicy) PostOp(pc *Context, clusterID string, a *types.Action) error {
	if pc.Health == nil {
		return nil
	}
	return pc.Health.Enable(clusterID)
}
