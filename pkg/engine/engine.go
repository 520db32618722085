package engine

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grovehq/grove/pkg/action"
	"github.com/grovehq/grove/pkg/config"
	"github.com/grovehq/grove/pkg/events"
	"github.com/grovehq/grove/pkg/health"
	"github.com/grovehq/grove/pkg/lock"
	"github.com/grovehq/grove/pkg/log"
	"github.com/grovehq/grove/pkg/metrics"
	"github.com/grovehq/grove/pkg/policy"
	"github.com/grovehq/grove/pkg/profile"
	"github.com/grovehq/grove/pkg/storage"
	"github.com/grovehq/grove/pkg/types"
)

// Options injects the pluggable collaborators of an engine. Profile
// types come from the deployment; policy types default to the built-in
// set when none are given.
type Options struct {
	ProfileTypes []*profile.Type
	PolicyTypes  []*policy.Type
	LBDriver     policy.LBDriver
}

// Engine is one engine instance: the dispatcher, worker pool, health
// manager and periodic loops over a shared store. The REST server is
// wired on top by the caller via Service().
type Engine struct {
	ID string

	startedAt time.Time

	cfg      *config.Config
	store    *storage.BoltStore
	broker   *events.Broker
	recorder *events.Recorder
	service  *Service
	health   *health.Manager

	pool       *action.Pool
	dispatcher *action.Dispatcher
	collector  *metrics.Collector

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New opens the store and wires every component of one engine instance.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	engineID := uuid.NewString()
	broker := events.NewBroker()

	profiles := profile.NewRegistry()
	for _, t := range opts.ProfileTypes {
		profiles.Register(t)
	}

	policies := policy.NewRegistry()
	builtins := opts.PolicyTypes
	if builtins == nil {
		builtins = []*policy.Type{
			policy.ScalingInType(),
			policy.ScalingOutType(),
			policy.HealthType(),
			policy.ZonePlacementType(),
			policy.RegionPlacementType(),
			policy.AffinityType(),
			policy.LoadBalanceType(),
		}
	}
	for _, t := range builtins {
		policies.Register(t)
	}

	svc := NewService(store, profiles, policies, broker, cfg)
	healthMgr := health.NewManager(store, broker, svc, cfg, engineID)

	pctx := &policy.Context{Store: store, Health: healthMgr, LB: opts.LBDriver}
	checker := policy.NewChecker(store, policies, pctx)
	locks := lock.New(store, engineID,
		cfg.LockRetryTimes,
		time.Duration(cfg.LockRetryInterval)*time.Second,
		cfg.LockRetentionDuration())

	deps := &action.Deps{
		Store:     store,
		Locks:     locks,
		Checker:   checker,
		Policies:  policies,
		PolicyCtx: pctx,
		Profiles:  profiles,
		Broker:    broker,
		Config:    cfg,
		EngineID:  engineID,
	}
	pool := action.NewPool(deps, cfg.WorkersPerEngine)
	dispatcher := action.NewDispatcher(deps, pool,
		time.Duration(cfg.DispatchInterval)*time.Second)

	return &Engine{
		ID:         engineID,
		startedAt:  time.Now().UTC(),
		cfg:        cfg,
		store:      store,
		broker:     broker,
		recorder:   events.NewRecorder(store),
		service:    svc,
		health:     healthMgr,
		pool:       pool,
		dispatcher: dispatcher,
		collector:  metrics.NewCollector(store),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("engine"),
	}, nil
}

// Service exposes the request front for the REST layer.
func (e *Engine) Service() *Service {
	return e.service
}

// Start brings up the background machinery. The first heartbeat runs
// before the health manager claims registries so this engine counts as
// alive from the start.
func (e *Engine) Start() error {
	e.heartbeat()

	e.broker.Start()
	e.collector.Start()

	e.wg.Add(1)
	go e.heartbeatLoop()

	e.wg.Add(1)
	go e.auditLoop()

	e.health.Start()
	e.dispatcher.Start()

	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("dispatcher", true, "")
	metrics.RegisterComponent("health-manager", true, "")

	e.logger.Info().Str("engine_id", e.ID).Msg("Engine started")
	return nil
}

// Stop shuts the machinery down in reverse order and closes the store.
func (e *Engine) Stop() {
	close(e.stopCh)

	e.dispatcher.Stop()
	e.health.Stop()
	e.collector.Stop()
	e.broker.Stop()
	e.wg.Wait()

	if err := e.store.RemoveEngine(e.ID); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to remove engine record")
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close store")
	}
	e.logger.Info().Str("engine_id", e.ID).Msg("Engine stopped")
}

func (e *Engine) heartbeat() {
	host, _ := os.Hostname()
	err := e.store.EngineHeartbeat(&types.Engine{
		ID:        e.ID,
		Host:      host,
		StartedAt: e.startedAt,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.cfg.PeriodicInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.heartbeat()
		}
	}
}

// auditLoop turns broker status events into durable audit rows, so the
// REST event listing covers status transitions from every component.
func (e *Engine) auditLoop() {
	defer e.wg.Done()
	sub := e.broker.Subscribe()
	for {
		select {
		case <-e.stopCh:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			e.recordEvent(ev)
		}
	}
}

func (e *Engine) recordEvent(ev *events.Event) {
	switch ev.Type {
	case events.EventClusterStatus:
		e.recorder.Record(levelFor(ev.Metadata["status"]), "",
			"cluster", ev.Metadata["cluster_id"], "",
			ev.Metadata["status"], ev.Metadata["reason"])
	case events.EventNodeStatus:
		e.recorder.Record(levelFor(ev.Metadata["status"]), "",
			"node", ev.Metadata["node_id"], "",
			ev.Metadata["status"], ev.Metadata["reason"])
	}
}

func levelFor(status string) types.EventLevel {
	switch status {
	case string(types.ClusterStatusError), string(types.ClusterStatusCritical):
		return types.EventError
	case string(types.ClusterStatusWarning):
		return types.EventWarning
	}
	return types.EventInfo
}
