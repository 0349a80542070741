package bridge

import (
	"strings"
	"testing"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// fakeStats is a StatsSource that hands the callback to the test.
type fakeStats struct {
	callback func(canbus.Stats)
}

func (f *fakeStats) SubscribeStats(callback func(canbus.Stats)) {
	f.callback = callback
}

func newTestBridge(t *testing.T) (*Bridge, *fakeMQTT, *frameRecorder, *scheiber.Bloc9) {
	t.Helper()

	frames := &frameRecorder{}
	device := newTestDevice(t, frames)

	system, err := scheiber.NewSystem(scheiber.SystemOptions{
		Bus:     &nopBus{frames},
		Devices: []*scheiber.Bloc9{device},
	})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}

	client := newFakeMQTT()
	b, err := New(Options{
		System:      system,
		Client:      client,
		TopicPrefix: "homeassistant",
		QoS:         1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, client, frames, device
}

// nopBus satisfies canbus.Connector over a frameRecorder.
type nopBus struct {
	*frameRecorder
}

func (n *nopBus) SetOnFrame(func(canbus.Frame)) {}
func (n *nopBus) IsConnected() bool             { return true }
func (n *nopBus) Stats() canbus.Stats           { return canbus.Stats{} }
func (n *nopBus) Close() error                  { return nil }

func TestBridge_BuildsEntities(t *testing.T) {
	b, _, _, _ := newTestBridge(t)

	if len(b.Lights()) != 1 {
		t.Errorf("lights = %d, want 1", len(b.Lights()))
	}
	if len(b.Switches()) != 1 {
		t.Errorf("switches = %d, want 1", len(b.Switches()))
	}
}

func TestBridge_StartPublishesEverything(t *testing.T) {
	b, client, _, _ := newTestBridge(t)

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	wantTopics := []string{
		"homeassistant/light/saloon_main/config",
		"homeassistant/scheiber/bloc9/7/s1/availability",
		"homeassistant/scheiber/bloc9/7/s1/state",
		"homeassistant/switch/nav_light/config",
		"homeassistant/scheiber/bloc9/7/s3/availability",
		"homeassistant/scheiber/bloc9/7/s3/state",
	}
	for _, topic := range wantTopics {
		if len(client.onTopic(topic)) == 0 {
			t.Errorf("nothing published to %s", topic)
		}
	}

	// Availability is "online" for every entity.
	for _, topic := range wantTopics {
		if !strings.HasSuffix(topic, "/availability") {
			continue
		}
		recs := client.onTopic(topic)
		if string(recs[0].payload) != "online" {
			t.Errorf("%s = %q, want online", topic, recs[0].payload)
		}
	}

	// Command topics are subscribed.
	if !client.deliver("homeassistant/scheiber/bloc9/7/s1/set", []byte("ON"), false) {
		t.Error("light command topic not subscribed")
	}
	if !client.deliver("homeassistant/scheiber/bloc9/7/s3/set", []byte("ON"), false) {
		t.Error("switch command topic not subscribed")
	}
}

func TestBridge_EndToEndCommand(t *testing.T) {
	b, client, frames, _ := newTestBridge(t)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client.deliver("homeassistant/scheiber/bloc9/7/s1/set", []byte(`{"state":"ON","brightness":64}`), false)

	sent := frames.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 CAN frame, got %d", len(sent))
	}
	if sent[0].ID != 0x023606B8 || sent[0].Data[1] != 0x11 || sent[0].Data[3] != 64 {
		t.Errorf("frame = %+v, want PWM 64 on device 7", sent[0])
	}
}

func TestBridge_RepublishAll(t *testing.T) {
	b, client, _, _ := newTestBridge(t)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	before := len(client.onTopic("homeassistant/light/saloon_main/config"))
	b.RepublishAll()
	after := len(client.onTopic("homeassistant/light/saloon_main/config"))

	if after != before+1 {
		t.Errorf("discovery republished %d times, want %d", after, before+1)
	}
}

func TestBridge_StatsSensor(t *testing.T) {
	frames := &frameRecorder{}
	device := newTestDevice(t, frames)
	system, err := scheiber.NewSystem(scheiber.SystemOptions{
		Bus:     &nopBus{frames},
		Devices: []*scheiber.Bloc9{device},
	})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}

	client := newFakeMQTT()
	stats := &fakeStats{}
	b, err := New(Options{
		System:      system,
		Client:      client,
		TopicPrefix: "homeassistant",
		QoS:         1,
		Stats:       stats,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(client.onTopic("homeassistant/sensor/scheiber_can_stats/config")) != 1 {
		t.Error("sensor discovery not published")
	}
	if stats.callback == nil {
		t.Fatal("stats observer not registered")
	}

	stats.callback(canbus.Stats{FramesRx: 42, FramesTx: 7, UniqueIDs: 3})

	recs := client.onTopic("homeassistant/scheiber/bridge/stats")
	if len(recs) != 1 {
		t.Fatalf("expected 1 stats publish, got %d", len(recs))
	}
	if !strings.Contains(string(recs[0].payload), `"frames_rx":42`) {
		t.Errorf("stats payload = %s", recs[0].payload)
	}
}

func TestBridge_HeartbeatLoggedOnce(t *testing.T) {
	b, _, _, device := newTestBridge(t)
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Heartbeats must not publish entity state or emit frames; they are
	// device-level only.
	device.Route(canbus.Frame{ID: 0x000006B8, Data: []byte{0x01}})
	device.Route(canbus.Frame{ID: 0x000006B8, Data: []byte{0x01}})

	if device.LastSeen().IsZero() {
		t.Error("heartbeat did not refresh LastSeen")
	}

	b.heartbeatMu.Lock()
	seen := b.heartbeatSeen["bloc9_7"]
	b.heartbeatMu.Unlock()
	if !seen {
		t.Error("bridge did not record the heartbeat")
	}
}
