package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/lock"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Result is the outcome an executor reports back to its worker.
type Result string

const (
	ResultOK        Result = "OK"
	ResultError     Result = "ERROR"
	ResultRetry     Result = "RETRY"
	ResultCancelled Result = "CANCELLED"
	ResultTimeout   Result = "TIMEOUT"
)

// waitInterval is how often a parked executor re-polls its own record and
// signal while waiting on children or a RESUME.
const waitInterval = 500 * time.Millisecond

// Deps bundles the collaborators executors need. One instance is shared
// by every worker of an engine.
type Deps struct {
	Store     storage.Store
	Locks     *lock.Manager
	Checker   *policy.Checker
	Policies  *policy.Registry
	PolicyCtx *policy.Context
	Profiles  *profile.Registry
	Broker    *events.Broker
	Config    *config.Config
	EngineID  string

	// NowFn and Sleep default to the real clock; tests swap them.
	NowFn func() time.Time
	Sleep func(time.Duration)
}

func (d *Deps) now() time.Time {
	if d.NowFn != nil {
		return d.NowFn()
	}
	return time.Now().UTC()
}

func (d *Deps) sleep(dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

// Executor runs one action to completion and reports the outcome. The
// worker frame owns the terminal transition; executors never mark their
// own action terminal.
type Executor interface {
	Execute(ctx context.Context) (Result, string)
}

// New selects the executor variant from the persisted verb.
func New(d *Deps, a *types.Action) Executor {
	switch {
	case types.IsClusterAction(a.Action):
		return &ClusterAction{base: base{d: d, a: a}}
	case types.IsNodeAction(a.Action):
		return &NodeAction{base: base{d: d, a: a}}
	default:
		return &CustomAction{base: base{d: d, a: a}}
	}
}

// base carries the cooperative-execution helpers shared by all variants:
// signal polling, timeout checks, child spawning and the dependency wait.
type base struct {
	d *Deps
	a *types.Action
}

func (b *base) timedOut() bool {
	if b.a.Timeout <= 0 || b.a.StartTime.IsZero() {
		return false
	}
	return b.d.now().Sub(b.a.StartTime) > time.Duration(b.a.Timeout)*time.Second
}

// yield is the cooperative checkpoint between execution steps. It
// surfaces a pending CANCEL or an exceeded timeout, and parks on SUSPEND
// until RESUME arrives.
func (b *base) yield() (Result, string) {
	if b.timedOut() {
		return ResultTimeout, "TIMEOUT"
	}
	sig, err := b.d.Store.SignalQuery(b.a.ID)
	if err != nil {
		return ResultOK, ""
	}
	switch sig {
	case types.SignalCancel:
		return ResultCancelled, "Action cancelled by signal"
	case types.SignalCancelParent:
		return ResultError, "parent cancelled"
	case types.SignalSuspend:
		return b.park()
	}
	return ResultOK, ""
}

// park holds the worker while the action is SUSPENDED. Timeout keeps
// running; CANCEL still wins.
func (b *base) park() (Result, string) {
	b.setStatus(types.ActionStatusSuspended, "Action suspended")
	for {
		b.d.sleep(waitInterval)
		if b.timedOut() {
			return ResultTimeout, "TIMEOUT"
		}
		sig, err := b.d.Store.SignalQuery(b.a.ID)
		if err != nil {
			continue
		}
		switch sig {
		case types.SignalCancel:
			return ResultCancelled, "Action cancelled by signal"
		case types.SignalCancelParent:
			return ResultError, "parent cancelled"
		case types.SignalResume:
			_ = b.d.Store.ClearSignal(b.a.ID)
			b.setStatus(types.ActionStatusRunning, "Action resumed")
			return ResultOK, ""
		}
	}
}

func (b *base) setStatus(status types.ActionStatus, reason string) {
	b.a.Status = status
	b.a.StatusReason = reason
	b.a.UpdatedAt = b.d.now()
	_ = b.d.Store.UpdateActionFields(b.a)
}

// saveData persists the action's Inputs/Outputs/Data so children and the
// API see policy decorations and execution results.
func (b *base) saveData() {
	b.a.UpdatedAt = b.d.now()
	_ = b.d.Store.UpdateActionFields(b.a)
}

// childSpec describes one derived action to spawn.
type childSpec struct {
	target string
	verb   string
	inputs map[string]interface{}
}

// spawnAndWait creates the derived actions, wires this action behind them
// and blocks until the whole batch settles. The store promotes this
// action back to READY when every child succeeds, or flips it FAILED on
// the first child that does not.
func (b *base) spawnAndWait(children []childSpec) (Result, string) {
	if len(children) == 0 {
		return ResultOK, ""
	}
	now := b.d.now()
	ids := make([]string, 0, len(children))
	for _, cs := range children {
		child := &types.Action{
			ID:        uuid.NewString(),
			Name:      childName(cs.verb, cs.target),
			Target:    cs.target,
			Action:    cs.verb,
			Cause:     types.CauseDerivedAction,
			Interval:  -1,
			Timeout:   b.a.Timeout,
			Status:    types.ActionStatusInit,
			Inputs:    cs.inputs,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := b.d.Store.CreateAction(child); err != nil {
			return ResultError, fmt.Sprintf("failed to create %s action: %v", cs.verb, err)
		}
		ids = append(ids, child.ID)
	}

	if err := b.d.Store.AddDependencies(ids, b.a.ID); err != nil {
		return ResultError, fmt.Sprintf("failed to add dependencies: %v", err)
	}

	// Release the batch into the queue.
	for _, id := range ids {
		child, err := b.d.Store.GetAction(id)
		if err != nil {
			continue
		}
		child.Status = types.ActionStatusReady
		child.UpdatedAt = b.d.now()
		if err := b.d.Store.UpdateActionFields(child); err != nil {
			return ResultError, fmt.Sprintf("failed to release action %s: %v", id, err)
		}
	}
	if b.d.Broker != nil {
		b.d.Broker.Publish(&events.Event{
			Type:    events.EventActionReady,
			Message: fmt.Sprintf("%d derived actions ready", len(ids)),
		})
	}

	return b.waitForChildren()
}

// waitForChildren polls this action's own record until the dependency
// edges resolve. A pending CANCEL signal takes precedence over a
// cascaded child failure so a user-initiated cancel terminates as
// CANCELLED, not FAILED.
func (b *base) waitForChildren() (Result, string) {
	for {
		sig, err := b.d.Store.SignalQuery(b.a.ID)
		if err == nil && sig == types.SignalCancel {
			return ResultCancelled, "Action cancelled by signal"
		}
		if err == nil && sig == types.SignalCancelParent {
			return ResultError, "parent cancelled"
		}
		if b.timedOut() {
			return ResultTimeout, "TIMEOUT"
		}

		rec, err := b.d.Store.GetAction(b.a.ID)
		if err != nil {
			return ResultError, err.Error()
		}
		switch rec.Status {
		case types.ActionStatusReady:
			// Every child succeeded; take the slot back before another
			// status write can observe the gap.
			rec.Status = types.ActionStatusRunning
			rec.UpdatedAt = b.d.now()
			if err := b.d.Store.UpdateActionFields(rec); err != nil {
				return ResultError, err.Error()
			}
			*b.a = *rec
			return ResultOK, ""
		case types.ActionStatusFailed:
			// A child failed and the store flipped this action. Drain the
			// remaining children before unwinding so the failure report
			// covers the whole batch.
			if len(rec.DependsOn) == 0 {
				*b.a = *rec
				return ResultError, rec.StatusReason
			}
		case types.ActionStatusCancelled:
			*b.a = *rec
			return ResultCancelled, rec.StatusReason
		}
		b.d.sleep(waitInterval)
	}
}

func childName(verb, target string) string {
	short := target
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(verb), short)
}

// Input coercion helpers. Inputs that crossed the REST boundary carry
// JSON numbers as float64.

func intInput(a *types.Action, key string, def int) int {
	switch v := a.Inputs[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolInput(a *types.Action, key string, def bool) bool {
	if v, ok := a.Inputs[key].(bool); ok {
		return v
	}
	return def
}

func stringInput(a *types.Action, key string) string {
	v, _ := a.Inputs[key].(string)
	return v
}

func stringListInput(a *types.Action, key string) []string {
	var out []string
	switch raw := a.Inputs[key].(type) {
	case []string:
		out = append(out, raw...)
	case []interface{}:
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
