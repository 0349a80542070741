package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
)

// MQTTSensor exposes the CAN bus I/O counters as a Home Assistant
// diagnostic sensor. State updates ride the bus client's periodic stats
// notifications.
type MQTTSensor struct {
	client MQTTClient
	qos    byte
	logger Logger

	configTopic string
	stateTopic  string
	availTopic  string
}

// sensorDiscovery is the Home Assistant discovery document for the
// diagnostic sensor.
type sensorDiscovery struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	ValueTemplate       string     `json:"value_template"`
	JSONAttributesTopic string     `json:"json_attributes_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement"`
	EntityCategory      string     `json:"entity_category"`
	Device              deviceInfo `json:"device"`
}

// sensorState is the JSON stats payload.
type sensorState struct {
	FramesRx      uint64  `json:"frames_rx"`
	FramesTx      uint64  `json:"frames_tx"`
	UniqueIDs     int     `json:"unique_ids"`
	ErrorsTotal   uint64  `json:"errors_total"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMQTTSensor creates the bus statistics sensor.
func NewMQTTSensor(client MQTTClient, prefix string, qos byte, logger Logger) *MQTTSensor {
	return &MQTTSensor{
		client:      client,
		qos:         qos,
		logger:      logger,
		configTopic: fmt.Sprintf("%s/sensor/scheiber_can_stats/config", prefix),
		stateTopic:  fmt.Sprintf("%s/scheiber/bridge/stats", prefix),
		availTopic:  fmt.Sprintf("%s/scheiber/bridge/availability", prefix),
	}
}

// PublishDiscovery publishes the retained discovery document.
func (s *MQTTSensor) PublishDiscovery() error {
	doc := sensorDiscovery{
		Name:                "CAN Bus Traffic",
		UniqueID:            "scheiber_bridge_can_stats",
		StateTopic:          s.stateTopic,
		AvailabilityTopic:   s.availTopic,
		ValueTemplate:       "{{ value_json.frames_rx }}",
		JSONAttributesTopic: s.stateTopic,
		UnitOfMeasurement:   "frames",
		EntityCategory:      "diagnostic",
		Device:              scheiberDevice(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	return s.client.Publish(s.configTopic, payload, s.qos, true)
}

// PublishStats publishes one stats snapshot. Wired as a stats observer
// on the CAN client.
func (s *MQTTSensor) PublishStats(stats canbus.Stats) {
	state := sensorState{
		FramesRx:      stats.FramesRx,
		FramesTx:      stats.FramesTx,
		UniqueIDs:     stats.UniqueIDs,
		ErrorsTotal:   stats.ErrorsTotal,
		UptimeSeconds: stats.Uptime,
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.client.Publish(s.stateTopic, payload, s.qos, true); err != nil {
		if s.logger != nil {
			s.logger.Warn("stats publish failed", "error", err.Error())
		}
	}
}
