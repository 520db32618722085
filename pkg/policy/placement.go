package policy

import (
	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/types"
)

// Placement policy type names.
const (
	ZonePlacementName   = "zone.placement-1.0"
	RegionPlacementName = "region.placement-1.0"
	AffinityName        = "affinity-1.0"
)

// Verbs that produce new nodes and therefore want placement hints.
var nodeProducingVerbs = []string{
	types.ClusterCreate,
	types.ClusterScaleOut,
	types.ClusterResize,
}

func placementTargets() []Target {
	targets := make([]Target, 0, len(nodeProducingVerbs))
	for _, verb := range nodeProducingVerbs {
		targets = append(targets, Target{When: types.PolicyBefore, Action: verb})
	}
	return targets
}

func listSchema(key, desc string) map[string]*schema.Schema {
	return map[string]*schema.Schema{
		key: {
			Type:        schema.List,
			Description: desc,
			Required:    true,
			Item:        &schema.Schema{Type: schema.String},
		},
	}
}

// ZonePlacementType spreads new nodes across availability zones
// round-robin.
func ZonePlacementType() *Type {
	t := &Type{
		Name:    ZonePlacementName,
		Version: "1.0",
		Schema:  listSchema("zones", "Availability zones to spread nodes across"),
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return &placementPolicy{
			Base:    Base{Targets: placementTargets()},
			hintKey: "zone",
			choices: stringList(specOf(t, rec).GetList("zones")),
		}, nil
	}
	return t
}

// RegionPlacementType spreads new nodes across regions round-robin.
func RegionPlacementType() *Type {
	t := &Type{
		Name:    RegionPlacementName,
		Version: "1.0",
		Schema:  listSchema("regions", "Regions to spread nodes across"),
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return &placementPolicy{
			Base:    Base{Targets: placementTargets()},
			hintKey: "region",
			choices: stringList(specOf(t, rec).GetList("regions")),
		}, nil
	}
	return t
}

// AffinityType pins every new node to one server group.
func AffinityType() *Type {
	t := &Type{
		Name:      AffinityName,
		Version:   "1.0",
		Singleton: true,
		Schema: map[string]*schema.Schema{
			"servergroup": {
				Type:        schema.String,
				Description: "Server group the cluster's nodes belong to",
				Required:    true,
			},
		},
	}
	t.New = func(rec *types.Policy) (Policy, error) {
		return &placementPolicy{
			Base:    Base{Targets: placementTargets()},
			hintKey: "servergroup",
			choices: []string{specOf(t, rec).GetString("servergroup")},
		}, nil
	}
	return t
}

// placementPolicy writes placements[i] = {hintKey: choices[i mod n]} for
// the count of nodes the action will create.
type placementPolicy struct {
	Base
	hintKey string
	choices []string
}

func (p *placementPolicy) PreOp(pc *Context, clusterID string, a *types.Action) error {
	if len(p.choices) == 0 {
		return nil
	}

	count := CreationCount(a, 0)
	if count == 0 {
		count = InputCount(a, 0)
	}
	if count == 0 && a.Action == types.ClusterCreate {
		if cluster, err := pc.Store.GetCluster(clusterID); err == nil {
			count = cluster.DesiredCapacity
		}
	}
	if count <= 0 {
		return nil
	}

	placements := make([]map[string]interface{}, count)
	for i := 0; i < count; i++ {
		placements[i] = map[string]interface{}{p.hintKey: p.choices[i%len(p.choices)]}
	}
	SetPlacement(a, placements)
	return nil
}

func stringList(raw []interface{}) []string {
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
