// Package wsclient is a reconnecting WebSocket client for devices that stream
// frames to the host (the gimbal camera's preview on port 8090).
//
// A Client owns at most one live link. Connect dials once; Start runs a
// persistent retry loop that dials every RetryInterval until connected and
// dials again after the link drops. Disconnect stops the loop, waits for the
// receive goroutine, and then closes the socket, so no frame is delivered
// after Disconnect returns.
package wsclient
