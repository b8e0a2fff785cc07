// Package session defines the contracts shared by every device session.
//
// A session owns one device's configuration, its transport handle, and the
// state decoded from that device. Sessions publish facts through an
// eventbus.Publisher and never touch subscribers directly. Concrete kinds
// live in subpackages (cloud, vision, gimbal, watcher, jetson).
//
// Every kind keeps two invariants:
//   - Setup tears down any existing transport before building a new one, so
//     at most one transport is live per session.
//   - Cleanup is idempotent and unregisters ingress handlers only while they
//     are still the session's own.
package session
