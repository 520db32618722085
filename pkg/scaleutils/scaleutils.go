// Package scaleutils holds the capacity arithmetic shared by the resize
// state machine and the scaling policies: adjustment resolution, bound
// checking and clamping, and victim selection for shrink operations.
package scaleutils

import (
	"fmt"
	"sort"

	"github.com/grovehq/grove/pkg/types"
)

// CalculateDesired resolves an adjustment into a target capacity.
// CHANGE_IN_PERCENTAGE deltas round toward zero and are widened to at
// least minStep nodes, preserving the sign of the request.
func CalculateDesired(current int, adjType string, number, minStep int) int {
	switch adjType {
	case types.ExactCapacity:
		return number
	case types.ChangeInCapacity:
		return current + number
	case types.ChangeInPercentage:
		delta := current * number / 100
		if delta < 0 {
			if -delta < minStep {
				delta = -minStep
			}
		} else {
			if delta < minStep {
				delta = minStep
			}
		}
		return current + delta
	default:
		return current
	}
}

// CheckSize validates desired against the cluster bounds, with optional
// overrides for the bounds themselves. A non-empty return is the reason
// the request is rejected.
func CheckSize(cluster *types.Cluster, desired int, minSize, maxSize *int) string {
	minBound := cluster.MinSize
	if minSize != nil {
		minBound = *minSize
	}
	maxBound := cluster.MaxSize
	if maxSize != nil {
		maxBound = *maxSize
	}

	if minBound < 0 {
		return "min_size must be non-negative"
	}
	if maxBound >= 0 && maxBound < minBound {
		return fmt.Sprintf("max_size %d is less than min_size %d", maxBound, minBound)
	}
	if desired < minBound {
		return "Attempted scaling below minimum size"
	}
	if maxBound >= 0 && desired > maxBound {
		return "Attempted scaling exceeds maximum size"
	}
	return ""
}

// Truncate clamps desired into the cluster bounds, honoring overrides.
// The second return reports whether clamping changed the value.
func Truncate(cluster *types.Cluster, desired int, minSize, maxSize *int) (int, bool) {
	minBound := cluster.MinSize
	if minSize != nil {
		minBound = *minSize
	}
	maxBound := cluster.MaxSize
	if maxSize != nil {
		maxBound = *maxSize
	}

	if desired < minBound {
		return minBound, true
	}
	if maxBound >= 0 && desired > maxBound {
		return maxBound, true
	}
	return desired, false
}

// SelectVictims picks count nodes to remove. Policy-supplied candidate
// ids win when present; otherwise the oldest nodes go first, ties broken
// by ascending id.
func SelectVictims(nodes []*types.Node, candidates []string, count int) []*types.Node {
	if count <= 0 {
		return nil
	}

	if len(candidates) > 0 {
		byID := make(map[string]*types.Node, len(nodes))
		for _, n := range nodes {
			byID[n.ID] = n
		}
		var victims []*types.Node
		for _, id := range candidates {
			if n, ok := byID[id]; ok {
				victims = append(victims, n)
				if len(victims) == count {
					break
				}
			}
		}
		if len(victims) == count {
			return victims
		}
		// Not enough valid candidates; fall through to age order for the
		// remainder, skipping already-chosen nodes.
		chosen := make(map[string]bool, len(victims))
		for _, v := range victims {
			chosen[v.ID] = true
		}
		for _, n := range byAge(nodes) {
			if chosen[n.ID] {
				continue
			}
			victims = append(victims, n)
			if len(victims) == count {
				break
			}
		}
		return victims
	}

	aged := byAge(nodes)
	if count > len(aged) {
		count = len(aged)
	}
	return aged[:count]
}

func byAge(nodes []*types.Node) []*types.Node {
	sorted := make([]*types.Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
