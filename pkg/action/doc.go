// Package action contains the execution half of the engine: the
// dispatcher that drains the persistent queue, the bounded worker pool,
// and the executor variants that run one action to a terminal state.
//
// Executors are chosen from the persisted verb: ClusterAction holds the
// state machines that expand CLUSTER_* requests into derived NODE_*
// children with dependency edges, NodeAction drives the profile driver
// for a single node, and CustomAction rejects anything else. Execution
// is cooperative; between steps an executor checks its pending signal
// and its timeout, so CANCEL, SUSPEND and RESUME take effect at the next
// yield point rather than preemptively.
package action
