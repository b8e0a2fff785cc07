// Package watcher implements the SenseCAP Watcher alert sessions.
//
// HTTPSession receives pushes on the shared ingress server, stores alert
// images under a bounded directory and publishes alarm, image and sensor
// events. MQTTSession receives the same payload shape from a broker topic.
package watcher
