package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// Default flash durations advertised in discovery (seconds).
const (
	flashTimeShortSecs = 2
	flashTimeLongSecs  = 10
)

// MQTTLight exposes one DimmableLight as a Home Assistant JSON-schema
// light.
//
// Each instance handles its own discovery config, state publishing
// (observer pattern), command subscription and command parsing. It talks
// only to the hardware output, never to the CAN bus directly.
type MQTTLight struct {
	light      *scheiber.DimmableLight
	deviceType string
	deviceID   int
	client     MQTTClient
	topics     entityTopics
	uniqueID   string
	qos        byte
	logger     Logger

	// now is the clock used for the retained-command age gate.
	// Injectable for tests.
	now func() time.Time
}

// lightDiscovery is the Home Assistant discovery document for a light.
type lightDiscovery struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	CommandTopic        string     `json:"command_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	Optimistic          bool       `json:"optimistic"`
	Device              deviceInfo `json:"device"`
	Schema              string     `json:"schema"`
	Brightness          bool       `json:"brightness"`
	SupportedColorModes []string   `json:"supported_color_modes"`
	BrightnessScale     int        `json:"brightness_scale"`
	Flash               bool       `json:"flash"`
	FlashTimeShort      int        `json:"flash_time_short"`
	FlashTimeLong       int        `json:"flash_time_long"`
	Effect              bool       `json:"effect"`
	EffectList          []string   `json:"effect_list"`
}

// lightState is the JSON state payload.
type lightState struct {
	State      string `json:"state"`
	Brightness uint8  `json:"brightness"`
}

// NewMQTTLight creates the MQTT entity for a dimmable light and
// subscribes it to the hardware output's state changes.
func NewMQTTLight(light *scheiber.DimmableLight, deviceType string, deviceID int, client MQTTClient, prefix string, qos byte, logger Logger) *MQTTLight {
	l := &MQTTLight{
		light:      light,
		deviceType: deviceType,
		deviceID:   deviceID,
		client:     client,
		topics:     newEntityTopics(prefix, "light", light.EntityID(), deviceType, deviceID, light.SwitchNr()),
		uniqueID:   uniqueID(deviceType, deviceID, light.SwitchNr()),
		qos:        qos,
		logger:     logger,
		now:        time.Now,
	}

	light.Subscribe(l.onStateChange)
	return l
}

// PublishDiscovery publishes the retained Home Assistant discovery
// document.
func (l *MQTTLight) PublishDiscovery() error {
	doc := lightDiscovery{
		Name:                l.light.DisplayName(),
		UniqueID:            l.uniqueID,
		StateTopic:          l.topics.state,
		CommandTopic:        l.topics.command,
		AvailabilityTopic:   l.topics.availability,
		Device:              scheiberDevice(),
		Schema:              "json",
		Brightness:          true,
		SupportedColorModes: []string{"brightness"},
		BrightnessScale:     255,
		Flash:               true,
		FlashTimeShort:      flashTimeShortSecs,
		FlashTimeLong:       flashTimeLongSecs,
		Effect:              true,
		EffectList:          scheiber.EasingNames(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	return l.client.Publish(l.topics.config, payload, l.qos, true)
}

// PublishAvailability publishes the availability status.
func (l *MQTTLight) PublishAvailability(online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	return l.client.Publish(l.topics.availability, []byte(payload), l.qos, true)
}

// PublishState publishes the current hardware state.
func (l *MQTTLight) PublishState() error {
	return l.publishSnapshot(l.light.State())
}

// SubscribeCommands subscribes to the entity's command topic.
func (l *MQTTLight) SubscribeCommands() error {
	return l.client.Subscribe(l.topics.command, l.qos, l.handleCommand)
}

// CommandTopic returns the entity command topic.
func (l *MQTTLight) CommandTopic() string { return l.topics.command }

// EntityID returns the Home Assistant entity object id.
func (l *MQTTLight) EntityID() string { return l.light.EntityID() }

// onStateChange publishes snapshots delivered by the hardware output.
func (l *MQTTLight) onStateChange(snap scheiber.Snapshot) {
	if err := l.publishSnapshot(snap); err != nil {
		l.logWarn("state publish failed", "error", err.Error())
	}
}

// publishSnapshot publishes one retained JSON state message.
func (l *MQTTLight) publishSnapshot(snap scheiber.Snapshot) error {
	state := lightState{State: "OFF", Brightness: snap.Brightness}
	if snap.State {
		state.State = "ON"
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return l.client.Publish(l.topics.state, payload, l.qos, true)
}

// handleCommand parses and executes one command message.
//
// Retained commands older than the replay window are discarded and the
// retained topic cleared; fresh retained commands are cleared after
// execution so they are not replayed on the next reconnect.
func (l *MQTTLight) handleCommand(_ string, payload []byte, retained bool) {
	cmd, timestamp, err := parseLightCommand(payload)
	if err != nil {
		l.logWarn("command discarded", "error", err.Error())
		return
	}

	if retained {
		if retainedTooOld(timestamp, l.now()) {
			l.logInfo("stale retained command ignored")
			l.clearRetainedCommand()
			return
		}
		defer l.clearRetainedCommand()
	}

	if err := l.light.Set(cmd); err != nil {
		l.logWarn("command failed", "error", err.Error())
	}
}

// clearRetainedCommand removes the retained message from the command
// topic.
func (l *MQTTLight) clearRetainedCommand() {
	if err := l.client.Publish(l.topics.command, nil, l.qos, true); err != nil {
		l.logWarn("retained clear failed", "error", err.Error())
	}
}

func (l *MQTTLight) logInfo(msg string, keysAndValues ...any) {
	if l.logger != nil {
		args := append([]any{"entity_id", l.light.EntityID()}, keysAndValues...)
		l.logger.Info(msg, args...)
	}
}

func (l *MQTTLight) logWarn(msg string, keysAndValues ...any) {
	if l.logger != nil {
		args := append([]any{"entity_id", l.light.EntityID()}, keysAndValues...)
		l.logger.Warn(msg, args...)
	}
}
