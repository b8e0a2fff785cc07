// Package api serves the status and control HTTP API.
//
// Routes:
//
//	GET  /api/v1/health                  server and dependency health
//	GET  /metrics                        Prometheus metrics
//	GET  /api/v1/sessions                every entry with its lifecycle state
//	GET  /api/v1/sessions/{id}           one entry
//	POST /api/v1/sessions/{id}/reload    rebuild the session from its entry
//	POST /api/v1/sessions/{id}/commands  {"action": ..., "value": ...}
//	POST /api/v1/ws/ticket               single-use stream ticket
//	GET  /api/v1/ws                      event stream
//
// Stream clients send {"type":"subscribe","payload":{"events":[...]}} with
// exact bus event names and receive {"type":"event","event_type":name,...}.
//
// With api.auth.enabled the session and ticket routes require a bearer
// token from package auth, and the stream requires a ticket.
package api
