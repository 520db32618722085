package action

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Dispatcher feeds ready actions from the store into the worker pool. It
// polls on a fixed interval and is additionally woken whenever another
// component publishes an action.ready event, so derived actions start
// without waiting out the poll interval.
type Dispatcher struct {
	deps     *Deps
	pool     *Pool
	interval time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
	lastReap time.Time
}

// NewDispatcher builds a dispatcher over the shared deps and pool.
func NewDispatcher(deps *Deps, pool *Pool, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		deps:     deps,
		pool:     pool,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("dispatcher"),
	}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	var wake events.Subscriber
	if d.deps.Broker != nil {
		wake = d.deps.Broker.Subscribe()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		d.logger.Info().Str("engine_id", d.deps.EngineID).Msg("Dispatcher started")
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.reap()
				d.drain()
			case ev, ok := <-wake:
				if !ok {
					wake = nil
					continue
				}
				if ev.Type == events.EventActionReady || ev.Type == events.EventActionCompleted {
					d.drain()
				}
			}
		}
	}()
}

// Stop halts dispatching and waits for in-flight actions to settle.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.pool.Wait()
	d.logger.Info().Msg("Dispatcher stopped")
}

// reap recovers actions stranded by engines that stopped heartbeating.
// A stranded RUNNING action whose timeout already elapsed fails; any
// other stranded RUNNING action goes back to READY, and a promoted READY
// parent with a dead owner is disowned so the queue can hand it out
// again. Runs at half the liveness window at most.
func (d *Dispatcher) reap() {
	now := d.deps.now()
	window := d.deps.Config.EngineLivenessWindow()
	if now.Sub(d.lastReap) < window/2 {
		return
	}
	d.lastReap = now

	for _, status := range []types.ActionStatus{types.ActionStatusRunning, types.ActionStatusReady} {
		actions, err := d.deps.Store.ListActions(storage.ActionFilter{Status: string(status)})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to scan for stranded actions")
			return
		}
		for _, a := range actions {
			if a.Owner == "" || a.Owner == d.deps.EngineID {
				continue
			}
			alive, err := d.deps.Store.EngineAlive(a.Owner, now, window)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err == nil && alive {
				continue
			}
			if a.Status == types.ActionStatusRunning && a.Timeout > 0 &&
				now.After(a.StartTime.Add(time.Duration(a.Timeout)*time.Second)) {
				if err := d.deps.Store.MarkFailed(a.ID, now, "timed out on crashed engine"); err != nil {
					d.logger.Warn().Err(err).Str("action_id", a.ID).Msg("Failed to fail stranded action")
				}
				continue
			}
			if err := d.deps.Store.Disown(a.ID, a.Owner); err != nil {
				if !errors.Is(err, storage.ErrConflict) {
					d.logger.Warn().Err(err).Str("action_id", a.ID).Msg("Failed to disown stranded action")
				}
				continue
			}
			d.logger.Warn().
				Str("action_id", a.ID).
				Str("dead_engine", a.Owner).
				Msg("Recovered action stranded by dead engine")
		}
	}
}

// drain hands out ready actions until the queue is empty or every worker
// slot is taken.
func (d *Dispatcher) drain() {
	for {
		if !d.pool.TryAcquire() {
			return
		}
		a, err := d.deps.Store.AcquireFirstReady(d.deps.EngineID, d.deps.now())
		if err != nil {
			d.pool.Release()
			if !errors.Is(err, storage.ErrNoReadyAction) {
				d.logger.Warn().Err(err).Msg("Failed to acquire ready action")
			}
			return
		}
		d.pool.Run(a)
	}
}
