package policy

import (
	"fmt"
	"time"

	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Checker runs the policy pipeline around cluster actions.
type Checker struct {
	store storage.Store
	reg   *Registry
	pctx  *Context

	nowFn func() time.Time
}

// NewChecker builds the pipeline over the given registry and context.
func NewChecker(store storage.Store, reg *Registry, pctx *Context) *Checker {
	return &Checker{
		store: store,
		reg:   reg,
		pctx:  pctx,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Check walks the cluster's enabled bindings in priority order and runs
// the hooks interested in (when, action). The verdict lands in the
// action's Data: CHECK_ERROR aborts the pipeline immediately. A cooldown
// still in progress on a BEFORE check short-circuits the same way. After
// an AFTER phase completes cleanly, last_op is advanced on every enabled
// binding of the cluster.
func (c *Checker) Check(clusterID string, a *types.Action, when string) error {
	SetStatus(a, types.CheckOK, "")

	bindings, err := c.store.ListBindings(clusterID)
	if err != nil {
		return fmt.Errorf("failed to load bindings for cluster %s: %w", clusterID, err)
	}

	logger := log.WithComponent("policy")
	for _, b := range bindings {
		if !b.Enabled {
			continue
		}
		rec, err := c.store.GetPolicy(b.PolicyID)
		if err != nil {
			SetStatus(a, types.CheckError, fmt.Sprintf("policy %s not found", b.PolicyID))
			return nil
		}
		pol, err := c.reg.Instantiate(rec)
		if err != nil {
			SetStatus(a, types.CheckError, err.Error())
			return nil
		}
		if !pol.NeedCheck(when, a) {
			continue
		}

		if when == types.PolicyBefore && rec.Cooldown > 0 && !b.LastOp.IsZero() {
			window := time.Duration(rec.Cooldown) * time.Second
			if c.nowFn().Sub(b.LastOp) < window {
				SetStatus(a, types.CheckError, "cooldown in progress")
				return nil
			}
		}

		var hookErr error
		if when == types.PolicyBefore {
			hookErr = pol.PreOp(c.pctx, clusterID, a)
		} else {
			hookErr = pol.PostOp(c.pctx, clusterID, a)
		}
		if hookErr != nil {
			SetStatus(a, types.CheckError, hookErr.Error())
			return nil
		}
		if status, reason := Status(a); status == types.CheckError {
			logger.Debug().
				Str("cluster_id", clusterID).
				Str("policy_id", b.PolicyID).
				Str("reason", reason).
				Msg("Policy check vetoed action")
			return nil
		}
	}

	if when == types.PolicyAfter {
		now := c.nowFn()
		for _, b := range bindings {
			if !b.Enabled {
				continue
			}
			b.LastOp = now
			if err := c.store.UpdateBinding(b); err != nil {
				logger.Warn().Err(err).
					Str("cluster_id", clusterID).
					Str("policy_id", b.PolicyID).
					Msg("Failed to advance binding last_op")
			}
		}
	}
	return nil
}
