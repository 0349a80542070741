package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Output kinds for configured device slots.
const (
	KindLight  = "light"
	KindSwitch = "switch"
)

// Slot and device limits for the Bloc9 family.
const (
	// MinDeviceID is the lowest DIP-configurable Bloc9 device id.
	MinDeviceID = 1

	// MaxDeviceID is the highest DIP-configurable Bloc9 device id.
	MaxDeviceID = 10

	// SlotCount is the number of outputs per Bloc9 (S1..S6).
	SlotCount = 6
)

// Config is the root configuration structure for the Scheiber bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	CAN     CANConfig      `yaml:"can"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
	State   StateConfig    `yaml:"state"`
	Logging LoggingConfig  `yaml:"logging"`
	Devices []DeviceConfig `yaml:"devices"`
}

// CANConfig contains CAN interface settings.
type CANConfig struct {
	// Interface is the SocketCAN interface name (e.g., "can0").
	Interface string `yaml:"interface"`

	// ReadOnly blocks all outbound frames when true. Useful for
	// monitoring an installation without touching it.
	ReadOnly bool `yaml:"read_only"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// StateConfig contains state persistence settings.
type StateConfig struct {
	// Path is the JSON state file location.
	Path string `yaml:"path"`

	// SaveInterval is how often dirty state is flushed to disk, in
	// seconds.
	SaveInterval int `yaml:"save_interval"`
}

// GetSaveInterval returns the state save interval as a Duration.
func (c *Config) GetSaveInterval() time.Duration {
	return time.Duration(c.State.SaveInterval) * time.Second
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig describes one physical Scheiber device on the bus.
type DeviceConfig struct {
	// DeviceType is the device family name. Only "bloc9" is supported.
	DeviceType string `yaml:"device_type"`

	// DeviceID is the DIP-switch bus id (1..10).
	DeviceID int `yaml:"device_id"`

	// Outputs maps slot keys ("s1".."s6") to entity metadata.
	// Unconfigured slots are silent.
	Outputs map[string]OutputConfig `yaml:"outputs"`
}

// OutputConfig describes one configured output slot.
type OutputConfig struct {
	// Kind is "light" (dimmable) or "switch" (on/off).
	Kind string `yaml:"kind"`

	// EntityID is the Home Assistant entity object id. Must be unique
	// across the whole configuration; persisted state is keyed by it.
	EntityID string `yaml:"entity_id"`

	// Name is the human-readable display name.
	Name string `yaml:"name"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SCHEIBER_SECTION_KEY
// For example: SCHEIBER_MQTT_HOST, SCHEIBER_CAN_INTERFACE
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		CAN: CANConfig{
			Interface: "can0",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scheiber-bridge",
			},
			QoS:         1,
			TopicPrefix: "homeassistant",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		State: StateConfig{
			Path:         "./data/state.json",
			SaveInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SCHEIBER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// CAN
	if v := os.Getenv("SCHEIBER_CAN_INTERFACE"); v != "" {
		cfg.CAN.Interface = v
	}

	// MQTT
	if v := os.Getenv("SCHEIBER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SCHEIBER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SCHEIBER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// State persistence
	if v := os.Getenv("SCHEIBER_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
}

// validSlots is the accepted set of slot keys.
var validSlots = map[string]bool{
	"s1": true, "s2": true, "s3": true, "s4": true, "s5": true, "s6": true,
}

// Validate checks the configuration for errors.
//
// Device validation enforces the invariants the routing layer depends on:
// unique (device_type, device_id) pairs, valid slot keys, known output kinds
// and globally unique entity ids.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// CAN validation
	if c.CAN.Interface == "" {
		errs = append(errs, "can.interface is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// State validation
	if c.State.Path == "" {
		errs = append(errs, "state.path is required")
	}
	if c.State.SaveInterval <= 0 {
		errs = append(errs, "state.save_interval must be positive")
	}

	// Device validation
	seenDevices := make(map[string]bool)
	seenEntityIDs := make(map[string]bool)
	for i, dev := range c.Devices {
		if dev.DeviceType != "bloc9" {
			errs = append(errs, fmt.Sprintf("devices[%d]: unknown device_type %q (only bloc9 is supported)", i, dev.DeviceType))
			continue
		}
		if dev.DeviceID < MinDeviceID || dev.DeviceID > MaxDeviceID {
			errs = append(errs, fmt.Sprintf("devices[%d]: device_id %d out of range %d..%d", i, dev.DeviceID, MinDeviceID, MaxDeviceID))
		}

		devKey := fmt.Sprintf("%s_%d", dev.DeviceType, dev.DeviceID)
		if seenDevices[devKey] {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate device %s", i, devKey))
		}
		seenDevices[devKey] = true

		for slot, out := range dev.Outputs {
			if !validSlots[strings.ToLower(slot)] {
				errs = append(errs, fmt.Sprintf("devices[%d]: invalid slot %q (use s1..s6)", i, slot))
				continue
			}
			if out.Kind != KindLight && out.Kind != KindSwitch {
				errs = append(errs, fmt.Sprintf("devices[%d].%s: unknown kind %q (use light or switch)", i, slot, out.Kind))
			}
			if out.EntityID == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].%s: entity_id is required", i, slot))
				continue
			}
			if seenEntityIDs[out.EntityID] {
				errs = append(errs, fmt.Sprintf("devices[%d].%s: duplicate entity_id %q", i, slot, out.EntityID))
			}
			seenEntityIDs[out.EntityID] = true
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SlotNumber converts a slot key ("s1".."s6") to a zero-based switch number.
// The second return value is false for unrecognised keys.
func SlotNumber(slot string) (int, bool) {
	s := strings.ToLower(slot)
	if !validSlots[s] {
		return 0, false
	}
	return int(s[1] - '1'), true
}
