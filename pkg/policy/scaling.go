package policy

import (
	"fmt"

	"github.com/grovehq/grove/pkg/scaleutils"
	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Scaling policy type names.
const (
	ScalingOutName = "scaling.out-1.0"
	ScalingInName  = "scaling.in-1.0"
)

var scalingSchema = map[string]*schema.Schema{
	"adjustment": {
		Type:        schema.Map,
		Description: "How to resolve the scaling request into a node count",
		Body: map[string]*schema.Schema{
			"type": {
				Type:    schema.String,
				Default: types.ChangeInCapacity,
				Constraints: []schema.Constraint{
					schema.AllowedValues{Values: []interface{}{
						types.ExactCapacity, types.ChangeInCapacity, types.ChangeInPercentage,
					}},
				},
			},
			"number": {
				Type:    schema.Integer,
				Default: 1,
			},
			"min_step": {
				Type:    schema.Integer,
				Default: 1,
			},
			"best_effort": {
				Type:    schema.Boolean,
				Default: false,
			},
		},
	},
}

// ScalingOutType resolves CLUSTER_SCALE_OUT requests into a creation
// count, vetoing requests that would exceed max_size unless best_effort.
func ScalingOutType() *Type {
	t := &Type{
		Name:      ScalingOutName,
		Version:   "1.0",
		Singleton: true,
		Schema:    scalingSchema,
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return newScalingPolicy(t, rec, true), nil
	}
	return t
}

// ScalingInType is the shrink-side counterpart.
func ScalingInType() *Type {
	t := &Type{
		Name:      ScalingInName,
		Version:   "1.0",
		Singleton: true,
		Schema:    scalingSchema,
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return newScalingPolicy(t, rec, false), nil
	}
	return t
}

type scalingPolicy struct {
	Base
	expand     bool
	adjType    string
	number     int
	minStep    int
	bestEffort bool
}

func newScalingPolicy(t *Type, rec *types.Policy, expand bool) *scalingPolicy {
	verb := types.ClusterScaleIn
	if expand {
		verb = types.ClusterScaleOut
	}
	spec := specOf(t, rec)
	adj := spec.GetMap("adjustment")

	p := &scalingPolicy{
		Base:    Base{Targets: []Target{{When: types.PolicyBefore, Action: verb}}},
		expand:  expand,
		adjType: types.ChangeInCapacity,
		number:  1,
		minStep: 1,
	}
	if adj != nil {
		if v, ok := adj["type"].(string); ok {
			p.adjType = v
		}
		if v, ok := adj["number"].(int); ok {
			p.number = v
		}
		if v, ok := adj["min_step"].(int); ok {
			p.minStep = v
		}
		if v, ok := adj["best_effort"].(bool); ok {
			p.bestEffort = v
		}
	}
	return p
}

func (p *scalingPolicy) PreOp(pc *Context, clusterID string, a *types.Action) error {
	cluster, err := pc.Store.GetCluster(clusterID)
	if err != nil {
		return fmt.Errorf("cluster %s not found", clusterID)
	}
	nodes, err := pc.Store.ListNodes(storage.NodeFilter{ClusterID: clusterID})
	if err != nil {
		return err
	}
	current := len(nodes)

	// An explicit count in the request wins over the policy adjustment.
	count := InputCount(a, 0)
	if count <= 0 {
		desired := scaleutils.CalculateDesired(current, p.adjType, p.number, p.minStep)
		if p.expand {
			count = desired - current
		} else {
			count = current - desired
		}
		if count < 0 {
			count = -count
		}
		if count == 0 {
			count = 1
		}
	}

	target := current - count
	if p.expand {
		target = current + count
	}

	if reason := scaleutils.CheckSize(cluster, target, nil, nil); reason != "" {
		if !p.bestEffort && !bestEffortInput(a) {
			SetStatus(a, types.CheckError, reason)
			return nil
		}
		truncated, _ := scaleutils.Truncate(cluster, target, nil, nil)
		if p.expand {
			count = truncated - current
		} else {
			count = current - truncated
		}
		if count <= 0 {
			SetStatus(a, types.CheckError, reason)
			return nil
		}
	}

	if p.expand {
		SetCreationCount(a, count)
	} else {
		SetDeletionCount(a, count)
	}
	return nil
}

func bestEffortInput(a *types.Action) bool {
	v, _ := a.Inputs["best_effort"].(bool)
	return v
}
