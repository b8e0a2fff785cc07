// Package mqtt provides per-device MQTT connectivity for sensecraft-core.
//
// Each device session owns one Client. The package manages:
//   - Connect with a bounded wait for CONNACK
//   - Subscriptions recorded before or after connect and restored on reconnect
//   - A single message handler with panic recovery
//   - Connection state callbacks on transitions only
//   - Topic builders for cloud, vision, gimbal, and Jetson devices
//
// # Usage
//
//	c, err := mqtt.New(mqtt.Options{Broker: "192.168.1.10", ClientID: "vision-1"})
//	if err != nil {
//	    return err
//	}
//	c.SetMessageHandler(func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
//	_ = c.Subscribe(mqtt.Topics{}.VisionRx(base), 0)
//	if err := c.Connect(ctx); err != nil {
//	    return err // reported as "not connected" to the caller
//	}
//	defer c.Disconnect()
package mqtt
