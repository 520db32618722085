// Package storage persists Grove's state in a single embedded bbolt
// database. Beyond plain CRUD it implements the action queue primitives:
// FIFO acquisition, terminal transitions with lock release and dependency
// resolution, signals and advisory cluster/node locks.
package storage
