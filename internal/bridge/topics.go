package bridge

import "fmt"

// MQTTClient is the interface the bridge needs from the MQTT layer.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic. A nil payload with
	// retained=true clears the retained message.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte, retained bool)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// entityTopics are the per-entity MQTT topics:
//
//	<prefix>/{light|switch}/<entity_id>/config             discovery
//	<prefix>/scheiber/<device_type>/<id>/s<N>/state        state
//	<prefix>/scheiber/<device_type>/<id>/s<N>/set          command
//	<prefix>/scheiber/<device_type>/<id>/s<N>/availability availability
type entityTopics struct {
	config       string
	state        string
	command      string
	availability string
}

// newEntityTopics builds the topic set for one output.
func newEntityTopics(prefix, component, entityID, deviceType string, deviceID, switchNr int) entityTopics {
	base := fmt.Sprintf("%s/scheiber/%s/%d/s%d", prefix, deviceType, deviceID, switchNr+1)
	return entityTopics{
		config:       fmt.Sprintf("%s/%s/%s/config", prefix, component, entityID),
		state:        base + "/state",
		command:      base + "/set",
		availability: base + "/availability",
	}
}

// uniqueID builds the Home Assistant unique id for one output, e.g.
// "scheiber_bloc9_8_s5".
func uniqueID(deviceType string, deviceID, switchNr int) string {
	return fmt.Sprintf("scheiber_%s_%d_s%d", deviceType, deviceID, switchNr+1)
}

// deviceInfo is the fixed Home Assistant device block shared by every
// entity, grouping them under one "Scheiber" device.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// scheiberDevice returns the shared device block.
func scheiberDevice() deviceInfo {
	return deviceInfo{
		Identifiers:  []string{"scheiber_system"},
		Name:         "Scheiber",
		Model:        "Marine Lighting Control System",
		Manufacturer: "Scheiber",
	}
}
