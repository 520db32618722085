/*
Package events provides an in-memory event broker for Grove's pub/sub
messaging, plus a Recorder that appends durable audit rows through the
store.

The broker is a lightweight fan-out bus: publishers never block, each
subscriber gets its own buffered channel, and slow subscribers drop events
rather than stall the engine. It carries two kinds of traffic:

  - Engine notifications (action.ready, action.completed) used to wake the
    dispatcher without polling.
  - Node lifecycle events (node.delete, node.shutdown, ...) consumed by the
    health manager for clusters enrolled with the LIFECYCLE_EVENTS check
    type.

Delivery is best effort. Anything that must survive a restart goes through
the Recorder, which writes Event rows into the bbolt store where the REST
API can list them.

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			handle(event)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventActionReady,
		Message: "action a1 ready",
	})
*/
package events
