package policy

import (
	"github.com/grovehq/grove/pkg/types"
)

// Action data scratchpad conventions. Policies and cluster state machines
// exchange results through well-known keys of action.Data; values that
// went through JSON land as float64, so readers coerce.

const (
	dataStatus    = "status"
	dataReason    = "reason"
	dataCreation  = "creation"
	dataDeletion  = "deletion"
	dataPlacement = "placement"
)

// SetStatus records the pipeline verdict on the action.
func SetStatus(a *types.Action, status, reason string) {
	if a.Data == nil {
		a.Data = make(map[string]interface{})
	}
	a.Data[dataStatus] = status
	a.Data[dataReason] = reason
}

// Status returns the pipeline verdict, defaulting to CHECK_OK.
func Status(a *types.Action) (string, string) {
	status, _ := a.Data[dataStatus].(string)
	reason, _ := a.Data[dataReason].(string)
	if status == "" {
		status = types.CheckOK
	}
	return status, reason
}

// SetCreationCount writes the expansion size for node-producing verbs.
func SetCreationCount(a *types.Action, count int) {
	if a.Data == nil {
		a.Data = make(map[string]interface{})
	}
	a.Data[dataCreation] = map[string]interface{}{"count": count}
}

// CreationCount reads the expansion size, or def when unset.
func CreationCount(a *types.Action, def int) int {
	return sectionCount(a, dataCreation, def)
}

// SetDeletionCount writes the shrink size for node-removing verbs,
// preserving any candidate list already present.
func SetDeletionCount(a *types.Action, count int) {
	if a.Data == nil {
		a.Data = make(map[string]interface{})
	}
	section, _ := a.Data[dataDeletion].(map[string]interface{})
	if section == nil {
		section = make(map[string]interface{})
	}
	section["count"] = count
	a.Data[dataDeletion] = section
}

// DeletionCount reads the shrink size, or def when unset.
func DeletionCount(a *types.Action, def int) int {
	return sectionCount(a, dataDeletion, def)
}

// DeletionCandidates returns policy-nominated victim node ids.
func DeletionCandidates(a *types.Action) []string {
	section, _ := a.Data[dataDeletion].(map[string]interface{})
	raw, _ := section["candidates"].([]interface{})
	var ids []string
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// DestroyAfterDeletion reports whether removed members should be
// destroyed rather than detached (CLUSTER_DEL_NODES semantics).
func DestroyAfterDeletion(a *types.Action) bool {
	section, _ := a.Data[dataDeletion].(map[string]interface{})
	destroy, _ := section["destroy_after_deletion"].(bool)
	return destroy
}

// SetPlacement writes per-node placement hints for the next count nodes.
func SetPlacement(a *types.Action, placements []map[string]interface{}) {
	if a.Data == nil {
		a.Data = make(map[string]interface{})
	}
	items := make([]interface{}, len(placements))
	for i, p := range placements {
		items[i] = p
	}
	a.Data[dataPlacement] = map[string]interface{}{
		"count":      len(placements),
		"placements": items,
	}
}

// Placements reads placement hints, nil when none were computed.
func Placements(a *types.Action) []map[string]interface{} {
	section, _ := a.Data[dataPlacement].(map[string]interface{})
	raw, _ := section["placements"].([]interface{})
	var out []map[string]interface{}
	for _, v := range raw {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func sectionCount(a *types.Action, key string, def int) int {
	section, _ := a.Data[key].(map[string]interface{})
	if section == nil {
		return def
	}
	switch v := section["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// InputCount reads a count from action inputs, or def when absent.
func InputCount(a *types.Action, def int) int {
	switch v := a.Inputs["count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
