// Package eventbus is the host event bus that device sessions fire into.
//
// Sessions run transport callbacks on many goroutines (paho callbacks,
// WebSocket receive loops, HTTP handlers). They only ever call Fire, which
// queues the event and returns. A single dispatcher goroutine started by Run
// delivers events to subscribers in publish order, so subscribers never run
// concurrently with each other.
//
// Event names follow sensecraft_<kind>_<id>_<field>; see Name.
package eventbus
