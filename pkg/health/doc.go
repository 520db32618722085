// Package health keeps enrolled clusters alive. A cluster opts in
// through the health policy; its registry row records the detection
// mechanism (periodic node-status polling or infrastructure lifecycle
// events) and which engine currently runs it. Detection turns into
// ordinary CLUSTER_CHECK and NODE_RECOVER actions, so recovery flows
// through the same queue and locking as every other mutation.
package health
