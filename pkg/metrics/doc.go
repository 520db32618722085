/*
Package metrics provides Prometheus metrics collection and exposition for
Grove, plus the /healthz, /readyz and /livez handlers served alongside
/metrics.

All metrics are registered at package init on the default registry. Two
kinds of instrumentation coexist:

  - Event-driven counters and histograms updated inline by the code doing
    the work (actions executed, action duration, lock steals, health
    checks, API requests).
  - Inventory gauges (clusters, nodes, actions by status) refreshed every
    15 seconds by the Collector, which reads the store rather than taxing
    the hot path with bookkeeping.

A process-wide checker tracks per-component health reported by the
engine's subsystems. Readiness requires the storage, dispatcher and
health-manager components to be registered and healthy; liveness only
requires the process to be up.

Usage:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()
*/
package metrics
