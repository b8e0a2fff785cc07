package mqtt

import (
	"fmt"
	"strings"
)

// Fixed device topics.
const (
	// TopicJetsonEvent carries all Jetson box events; payloads name the device by MAC.
	TopicJetsonEvent = "/seeed/jetson/event"

	// DefaultGimbalNamespace prefixes gimbal topics in MQTT transport mode.
	DefaultGimbalNamespace = "sensecraft"
)

// Topics provides builders for SenseCraft device topics.
//
//	topics := mqtt.Topics{}
//	topics.CloudSensorData("1234")  // "/device_sensor_data/1234/#"
type Topics struct{}

// =============================================================================
// Cloud Topics
// =============================================================================

// CloudSensorData returns the wildcard for all sensor data of an organisation.
//
// Pattern: /device_sensor_data/{org}/#
func (Topics) CloudSensorData(orgID string) string {
	return fmt.Sprintf("/device_sensor_data/%s/#", orgID)
}

// =============================================================================
// Vision Module Topics
// =============================================================================

// VisionRx is where the module publishes replies and events (host receives).
//
// Example: sscma/v0/grove_vision_ai_v2/tx
func (Topics) VisionRx(base string) string {
	return base + "/tx"
}

// VisionTx is where the host publishes AT commands (module receives).
//
// Example: sscma/v0/grove_vision_ai_v2/rx
func (Topics) VisionTx(base string) string {
	return base + "/rx"
}

// =============================================================================
// Gimbal Topics
// =============================================================================

// GimbalState is where a gimbal publishes state in MQTT mode.
//
// Example: sensecraft/recamera/cam1/state
func (Topics) GimbalState(namespace, deviceID string) string {
	return fmt.Sprintf("%s/recamera/%s/state", namespace, deviceID)
}

// GimbalControl is where the host publishes control commands.
func (Topics) GimbalControl(namespace, deviceID string) string {
	return fmt.Sprintf("%s/recamera/%s/control", namespace, deviceID)
}

// GimbalAck is where the gimbal acknowledges control commands.
func (Topics) GimbalAck(namespace, deviceID string) string {
	return fmt.Sprintf("%s/recamera/%s/ack", namespace, deviceID)
}

// Segments splits a topic on "/". A leading "/" yields an empty first segment,
// so "/device_sensor_data/org/eui/1/x/4097" has 7 segments.
func Segments(topic string) []string {
	return strings.Split(topic, "/")
}
