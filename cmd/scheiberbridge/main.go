// Scheiber bridge - CAN to MQTT gateway for Scheiber marine lighting.
//
// The bridge decodes Bloc9 state frames from the boat's CAN bus,
// exposes every configured output as a Home Assistant entity via MQTT
// Discovery, and turns incoming MQTT commands into CAN command frames
// (including smooth, cancellable brightness transitions).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/nerrad567/scheiber-bridge/internal/bridge"
	"github.com/nerrad567/scheiber-bridge/internal/canbus"
	"github.com/nerrad567/scheiber-bridge/internal/infrastructure/config"
	"github.com/nerrad567/scheiber-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/scheiber-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Scheiber bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open CAN interface
	canClient, err := canbus.Open(cfg.CAN.Interface, cfg.CAN.ReadOnly)
	if err != nil {
		return fmt.Errorf("opening CAN interface: %w", err)
	}
	canClient.SetLogger(log.With("component", "canbus"))
	defer func() {
		log.Info("closing CAN interface")
		if closeErr := canClient.Close(); closeErr != nil {
			log.Error("error closing CAN interface", "error", closeErr)
		}
	}()
	log.Info("CAN interface opened",
		"interface", cfg.CAN.Interface,
		"read_only", cfg.CAN.ReadOnly,
	)

	// Build devices from configuration
	devices, err := buildDevices(cfg, canClient, log)
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}

	// Create the device system
	system, err := scheiber.NewSystem(scheiber.SystemOptions{
		Bus:          canClient,
		Devices:      devices,
		StatePath:    cfg.State.Path,
		SaveInterval: cfg.GetSaveInterval(),
		Logger:       log.With("component", "scheiber"),
	})
	if err != nil {
		return fmt.Errorf("creating system: %w", err)
	}

	// Connect to MQTT broker. Any failure of this first connect ends the
	// run, with auth rejection reported separately; connection losses
	// after startup are reconnected by the client library.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		if errors.Is(err, mqtt.ErrAuthFailed) {
			return fmt.Errorf("MQTT authentication rejected: %w", err)
		}
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.With("component", "mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Create the entity bridge
	entityBridge, err := bridge.New(bridge.Options{
		System:      system,
		Client:      &mqttBridgeAdapter{client: mqttClient},
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Stats:       canClient,
		Logger:      log.With("component", "bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Start the device system (loads persisted state, begins dispatch)
	if err := system.Start(); err != nil {
		return fmt.Errorf("starting system: %w", err)
	}
	defer func() {
		log.Info("stopping system")
		system.Stop()
	}()

	// Start the entity bridge (discovery, availability, subscriptions)
	if err := entityBridge.Start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started")

	// Re-learn retained documents after broker reconnects
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, republishing entities")
		entityBridge.RepublishAll()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SCHEIBER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SCHEIBER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildDevices constructs the device list from configuration.
//
// Slot keys are converted to zero-based switch numbers; the config
// layer has already validated slots, kinds and entity id uniqueness.
func buildDevices(cfg *config.Config, sender scheiber.FrameSender, log *logging.Logger) ([]*scheiber.Bloc9, error) {
	devices := make([]*scheiber.Bloc9, 0, len(cfg.Devices))

	for _, devCfg := range cfg.Devices {
		// Stable slot order for deterministic entity construction
		slots := make([]string, 0, len(devCfg.Outputs))
		for slot := range devCfg.Outputs {
			slots = append(slots, slot)
		}
		sort.Strings(slots)

		specs := make([]scheiber.OutputSpec, 0, len(slots))
		for _, slot := range slots {
			out := devCfg.Outputs[slot]
			switchNr, ok := config.SlotNumber(slot)
			if !ok {
				return nil, fmt.Errorf("device %d: invalid slot %q", devCfg.DeviceID, slot)
			}
			specs = append(specs, scheiber.OutputSpec{
				SwitchNr: switchNr,
				Dimmable: out.Kind == config.KindLight,
				EntityID: out.EntityID,
				Name:     out.Name,
			})
		}

		device, err := scheiber.NewBloc9(devCfg.DeviceID, specs,
			sender, log.With("component", "bloc9", "device_id", devCfg.DeviceID))
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", devCfg.DeviceID, err)
		}
		devices = append(devices, device)

		log.Info("device configured",
			"device_type", devCfg.DeviceType,
			"device_id", devCfg.DeviceID,
			"outputs", len(specs),
		)
	}

	return devices, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the entity
// bridge's MQTTClient interface. The difference is the Subscribe handler
// signature: the infrastructure handler returns an error, bridge
// handlers do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte, retained bool)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte, retained bool) error {
		handler(t, p, retained)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
