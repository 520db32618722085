// Package log wraps zerolog with Grove's global logger and child-logger
// helpers for the component, cluster_id, node_id and action_id fields.
package log
