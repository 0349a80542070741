package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// MQTTSwitch exposes one Switch output as a Home Assistant switch.
//
// Switches use the plain (non-JSON) schema: state and commands are the
// literal payloads "ON" and "OFF". State is never optimistic — the
// entity publishes only when a matched CAN frame confirms the change.
type MQTTSwitch struct {
	sw         *scheiber.Switch
	deviceType string
	deviceID   int
	client     MQTTClient
	topics     entityTopics
	uniqueID   string
	qos        byte
	logger     Logger

	// now is the clock used for the retained-command age gate.
	now func() time.Time
}

// switchDiscovery is the Home Assistant discovery document for a switch.
type switchDiscovery struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	CommandTopic      string     `json:"command_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	PayloadOn         string     `json:"payload_on"`
	PayloadOff        string     `json:"payload_off"`
	Optimistic        bool       `json:"optimistic"`
	DeviceClass       string     `json:"device_class"`
	Device            deviceInfo `json:"device"`
}

// NewMQTTSwitch creates the MQTT entity for a switch output and
// subscribes it to the hardware output's state changes.
func NewMQTTSwitch(sw *scheiber.Switch, deviceType string, deviceID int, client MQTTClient, prefix string, qos byte, logger Logger) *MQTTSwitch {
	s := &MQTTSwitch{
		sw:         sw,
		deviceType: deviceType,
		deviceID:   deviceID,
		client:     client,
		topics:     newEntityTopics(prefix, "switch", sw.EntityID(), deviceType, deviceID, sw.SwitchNr()),
		uniqueID:   uniqueID(deviceType, deviceID, sw.SwitchNr()),
		qos:        qos,
		logger:     logger,
		now:        time.Now,
	}

	sw.Subscribe(s.onStateChange)
	return s
}

// PublishDiscovery publishes the retained Home Assistant discovery
// document.
func (s *MQTTSwitch) PublishDiscovery() error {
	doc := switchDiscovery{
		Name:              s.sw.DisplayName(),
		UniqueID:          s.uniqueID,
		StateTopic:        s.topics.state,
		CommandTopic:      s.topics.command,
		AvailabilityTopic: s.topics.availability,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		DeviceClass:       "switch",
		Device:            scheiberDevice(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	return s.client.Publish(s.topics.config, payload, s.qos, true)
}

// PublishAvailability publishes the availability status.
func (s *MQTTSwitch) PublishAvailability(online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	return s.client.Publish(s.topics.availability, []byte(payload), s.qos, true)
}

// PublishState publishes the current hardware state.
func (s *MQTTSwitch) PublishState() error {
	return s.publishSnapshot(s.sw.State())
}

// SubscribeCommands subscribes to the entity's command topic.
func (s *MQTTSwitch) SubscribeCommands() error {
	return s.client.Subscribe(s.topics.command, s.qos, s.handleCommand)
}

// CommandTopic returns the entity command topic.
func (s *MQTTSwitch) CommandTopic() string { return s.topics.command }

// EntityID returns the Home Assistant entity object id.
func (s *MQTTSwitch) EntityID() string { return s.sw.EntityID() }

// onStateChange publishes confirmed state changes.
func (s *MQTTSwitch) onStateChange(snap scheiber.Snapshot) {
	if err := s.publishSnapshot(snap); err != nil {
		s.logWarn("state publish failed", "error", err.Error())
	}
}

// publishSnapshot publishes one retained plain ON/OFF state message.
func (s *MQTTSwitch) publishSnapshot(snap scheiber.Snapshot) error {
	payload := "OFF"
	if snap.State {
		payload = "ON"
	}
	return s.client.Publish(s.topics.state, []byte(payload), s.qos, true)
}

// handleCommand parses and executes one command message, applying the
// retained-command age gate.
func (s *MQTTSwitch) handleCommand(_ string, payload []byte, retained bool) {
	state, timestamp, err := parseSwitchCommand(payload)
	if err != nil {
		s.logWarn("command discarded", "error", err.Error())
		return
	}

	if retained {
		if retainedTooOld(timestamp, s.now()) {
			s.logInfo("stale retained command ignored")
			s.clearRetainedCommand()
			return
		}
		defer s.clearRetainedCommand()
	}

	if err := s.sw.Set(state); err != nil {
		s.logWarn("command failed", "error", err.Error())
	}
}

// clearRetainedCommand removes the retained message from the command
// topic.
func (s *MQTTSwitch) clearRetainedCommand() {
	if err := s.client.Publish(s.topics.command, nil, s.qos, true); err != nil {
		s.logWarn("retained clear failed", "error", err.Error())
	}
}

func (s *MQTTSwitch) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		args := append([]any{"entity_id", s.sw.EntityID()}, keysAndValues...)
		s.logger.Info(msg, args...)
	}
}

func (s *MQTTSwitch) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		args := append([]any{"entity_id", s.sw.EntityID()}, keysAndValues...)
		s.logger.Warn(msg, args...)
	}
}
