package action

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/metrics"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Pool bounds how many actions one engine executes concurrently. The
// dispatcher reserves a slot before acquiring an action; the slot is
// returned when the action reaches a terminal state or is abandoned.
type Pool struct {
	deps  *Deps
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewPool builds a pool of the given size.
func NewPool(deps *Deps, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		deps:  deps,
		slots: make(chan struct{}, size),
	}
}

// TryAcquire reserves a worker slot without blocking.
func (p *Pool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns an unused slot reserved by TryAcquire.
func (p *Pool) Release() {
	<-p.slots
}

// Run executes the action on its own goroutine. The caller must hold a
// slot from TryAcquire; Run consumes it.
func (p *Pool) Run(a *types.Action) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Release()
		p.runOne(a)
	}()
}

// Wait blocks until every in-flight action has settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runOne(a *types.Action) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	logger := log.WithActionID(a.ID)
	logger.Info().
		Str("action", a.Action).
		Str("target", a.Target).
		Msg("Executing action")

	timer := metrics.NewTimer()
	result, reason := execute(New(p.deps, a))
	p.finalize(a, result, reason)
	timer.ObserveDurationVec(metrics.ActionDuration, a.Action)
	metrics.ActionsExecuted.WithLabelValues(a.Action, string(result)).Inc()

	logger.Info().
		Str("action", a.Action).
		Str("result", string(result)).
		Str("reason", reason).
		Msg("Action settled")
}

// execute shields the worker from executor panics; an escaped panic
// becomes an ERROR result instead of taking the engine down.
func execute(exec Executor) (result Result, reason string) {
	defer func() {
		if r := recover(); r != nil {
			result = ResultError
			reason = fmt.Sprintf("panic: %v", r)
		}
	}()
	return exec.Execute(context.Background())
}

// finalize maps the executor's result onto the terminal (or requeue)
// store transition.
func (p *Pool) finalize(a *types.Action, result Result, reason string) {
	now := p.deps.now()
	var err error
	switch result {
	case ResultOK:
		if reason == "" {
			reason = "Action completed"
		}
		err = p.deps.Store.MarkSucceeded(a.ID, now, reason)
	case ResultError:
		err = p.deps.Store.MarkFailed(a.ID, now, reason)
	case ResultTimeout:
		err = p.deps.Store.MarkFailed(a.ID, now, "TIMEOUT")
	case ResultCancelled:
		if reason == "" {
			reason = "Action cancelled"
		}
		err = p.deps.Store.MarkCancelled(a.ID, now, reason)
	case ResultRetry:
		// Locks are already released (or were never taken); hand the
		// action back for another worker.
		err = p.deps.Store.Abandon(a.ID)
		if err != nil && errors.Is(err, storage.ErrConflict) {
			// The store flipped the action terminal while we were backing
			// off; nothing left to do.
			err = nil
		}
	}
	if err != nil {
		logger := log.WithActionID(a.ID)
		logger.Error().Err(err).
			Str("result", string(result)).
			Msg("Failed to record action outcome")
		return
	}
	if p.deps.Broker != nil && result != ResultRetry {
		p.deps.Broker.Publish(&events.Event{
			Type:    events.EventActionCompleted,
			Message: string(result),
			Metadata: map[string]string{
				"action_id": a.ID,
				"action":    a.Action,
				"target":    a.Target,
				"result":    string(result),
			},
		})
	}
}
