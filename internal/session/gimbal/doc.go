// Package gimbal implements the reCamera gimbal session.
//
// A gimbal streams camera frames over WebSocket (or MQTT in newer firmware),
// pushes motor and tracking state to the shared ingress server, and accepts
// control commands over HTTP or MQTT. State changes are published as events
// named sensecraft_recamera_<device_id>_<fact> so independent controls stay
// in sync without polling.
package gimbal
