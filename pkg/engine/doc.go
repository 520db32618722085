// Package engine assembles one engine instance and fronts it with the
// validated request surface the REST layer calls.
//
// Service turns external requests into records plus READY actions and
// returns the action id; Engine owns the background machinery around
// it: dispatcher, worker pool, health manager, heartbeat and the audit
// loop. Engines sharing a store coordinate only through it.
package engine
