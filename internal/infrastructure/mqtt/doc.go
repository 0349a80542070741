// Package mqtt provides MQTT client connectivity for the Scheiber bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the bridge availability topic
//   - Connection health monitoring
//
// # Architecture
//
// The bridge uses MQTT to expose Scheiber CAN devices to Home Assistant
// via MQTT Discovery:
//
//	Scheiber CAN bus ↔ bridge ↔ MQTT broker ↔ Home Assistant
//
// Entity-level topics are owned by the bridge package; this package only
// knows the bridge-wide availability topic used for the LWT.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    // ErrAuthFailed is fatal; see errors.go
//	}
//	defer client.Close()
//
//	err = client.Subscribe("homeassistant/scheiber/bloc9/7/s1/set", 1,
//	    func(topic string, payload []byte, retained bool) error {
//	        return handleCommand(payload)
//	    })
package mqtt
