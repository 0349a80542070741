package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// StatsSource delivers periodic CAN statistics. Satisfied by
// *canbus.Client.
type StatsSource interface {
	SubscribeStats(callback func(canbus.Stats))
}

// Bridge wires the device engine to MQTT.
//
// At start it builds one MQTT entity per configured output, publishes
// the retained discovery documents, the per-entity availability and the
// initial state, and subscribes every command topic. State changes flow
// from hardware outputs through the observer pattern; the entity layer
// never touches the CAN bus directly.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	system *scheiber.System
	client MQTTClient
	prefix string
	qos    byte
	stats  StatsSource
	logger Logger

	lights   []*MQTTLight
	switches []*MQTTSwitch
	sensor   *MQTTSensor

	// First-heartbeat tracking per device state key.
	heartbeatMu   sync.Mutex
	heartbeatSeen map[string]bool

	startOnce sync.Once
}

// Options configures a Bridge.
type Options struct {
	// System is the device engine.
	System *scheiber.System

	// Client is the MQTT client.
	Client MQTTClient

	// TopicPrefix is the discovery prefix (default "homeassistant").
	TopicPrefix string

	// QoS is the publish/subscribe QoS level.
	QoS byte

	// Stats optionally wires the CAN statistics sensor.
	Stats StatsSource

	// Logger is an optional structured logger.
	Logger Logger
}

// New creates a Bridge and builds the entity set from the system's
// devices.
func New(opts Options) (*Bridge, error) {
	if opts.System == nil {
		return nil, fmt.Errorf("bridge: system is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("bridge: MQTT client is required")
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "homeassistant"
	}

	b := &Bridge{
		system:        opts.System,
		client:        opts.Client,
		prefix:        opts.TopicPrefix,
		qos:           opts.QoS,
		stats:         opts.Stats,
		logger:        opts.Logger,
		heartbeatSeen: make(map[string]bool),
	}

	for _, dev := range b.system.Devices() {
		for _, light := range dev.Lights() {
			b.lights = append(b.lights, NewMQTTLight(light, dev.DeviceType(), dev.DeviceID(), b.client, b.prefix, b.qos, b.logger))
		}
		for _, sw := range dev.Switches() {
			b.switches = append(b.switches, NewMQTTSwitch(sw, dev.DeviceType(), dev.DeviceID(), b.client, b.prefix, b.qos, b.logger))
		}
	}

	if b.stats != nil {
		b.sensor = NewMQTTSensor(b.client, b.prefix, b.qos, b.logger)
	}

	return b, nil
}

// Start publishes discovery, availability and initial state for every
// entity and subscribes the command topics.
func (b *Bridge) Start() error {
	var startErr error
	b.startOnce.Do(func() {
		if err := b.publishAll(); err != nil {
			startErr = err
			return
		}

		for _, light := range b.lights {
			if err := light.SubscribeCommands(); err != nil {
				startErr = fmt.Errorf("subscribe %s: %w", light.EntityID(), err)
				return
			}
		}
		for _, sw := range b.switches {
			if err := sw.SubscribeCommands(); err != nil {
				startErr = fmt.Errorf("subscribe %s: %w", sw.EntityID(), err)
				return
			}
		}

		if b.sensor != nil {
			b.stats.SubscribeStats(b.sensor.PublishStats)
		}

		// Device-level heartbeat notifications: log the first sighting of
		// each device. Heartbeats never mutate outputs.
		for _, dev := range b.system.Devices() {
			key := dev.StateKey()
			dev.SubscribeHeartbeat(func(time.Time) {
				b.heartbeatMu.Lock()
				seen := b.heartbeatSeen[key]
				b.heartbeatSeen[key] = true
				b.heartbeatMu.Unlock()

				if !seen {
					b.logInfo("device heartbeat", "device", key)
				}
			})
		}

		b.logInfo("bridge started",
			"lights", len(b.lights),
			"switches", len(b.switches),
		)
	})
	return startErr
}

// RepublishAll re-publishes discovery, availability and state for every
// entity. Hook this to the MQTT client's reconnect callback so a broker
// restart re-learns the retained documents.
func (b *Bridge) RepublishAll() {
	if err := b.publishAll(); err != nil {
		b.logWarn("republish failed", "error", err.Error())
	}
}

// publishAll publishes discovery, availability and initial state for
// every entity.
func (b *Bridge) publishAll() error {
	for _, light := range b.lights {
		if err := light.PublishDiscovery(); err != nil {
			return fmt.Errorf("discovery %s: %w", light.EntityID(), err)
		}
		if err := light.PublishAvailability(true); err != nil {
			return fmt.Errorf("availability %s: %w", light.EntityID(), err)
		}
		if err := light.PublishState(); err != nil {
			return fmt.Errorf("state %s: %w", light.EntityID(), err)
		}
	}

	for _, sw := range b.switches {
		if err := sw.PublishDiscovery(); err != nil {
			return fmt.Errorf("discovery %s: %w", sw.EntityID(), err)
		}
		if err := sw.PublishAvailability(true); err != nil {
			return fmt.Errorf("availability %s: %w", sw.EntityID(), err)
		}
		if err := sw.PublishState(); err != nil {
			return fmt.Errorf("state %s: %w", sw.EntityID(), err)
		}
	}

	if b.sensor != nil {
		if err := b.sensor.PublishDiscovery(); err != nil {
			return fmt.Errorf("sensor discovery: %w", err)
		}
	}

	return nil
}

// Lights returns the light entities.
func (b *Bridge) Lights() []*MQTTLight { return b.lights }

// Switches returns the switch entities.
func (b *Bridge) Switches() []*MQTTSwitch { return b.switches }

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}
