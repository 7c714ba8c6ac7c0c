// Package broadcast implements room-based fan-out to WebSocket connections.
//
// The Registry is the only shared membership structure. The Broadcaster snapshots
// a room's members and queues each message on every connection without blocking;
// one writer goroutine per connection drains its queue. A connection whose queue
// overflows or whose transport fails is evicted. The HeartbeatMonitor pings open
// connections and evicts the ones that stopped answering.
package broadcast
