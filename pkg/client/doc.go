// Package client is a thin Go client for the grove REST v1 API. Every
// mutation returns the queued action's reference; WaitAction polls it
// to a terminal state.
package client
