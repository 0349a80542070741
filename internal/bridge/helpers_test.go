package bridge

import (
	"sync"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
	"github.com/nerrad567/scheiber-bridge/internal/scheiber"
)

// pubRecord is one captured publish.
type pubRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT is an in-memory MQTTClient for tests.
type fakeMQTT struct {
	mu        sync.Mutex
	published []pubRecord
	subs      map[string]func(topic string, payload []byte, retained bool)
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{subs: make(map[string]func(string, []byte, bool))}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	if payload != nil {
		data = make([]byte, len(payload))
		copy(data, payload)
	}
	f.published = append(f.published, pubRecord{topic: topic, payload: data, qos: qos, retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler func(topic string, payload []byte, retained bool)) error {
	f.mu.Lock()
	f.subs[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return true }

// deliver simulates an inbound message on a subscribed topic.
func (f *fakeMQTT) deliver(topic string, payload []byte, retained bool) bool {
	f.mu.Lock()
	handler := f.subs[topic]
	f.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(topic, payload, retained)
	return true
}

// records returns the captured publishes.
func (f *fakeMQTT) records() []pubRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pubRecord, len(f.published))
	copy(out, f.published)
	return out
}

// onTopic returns publishes to one topic.
func (f *fakeMQTT) onTopic(topic string) []pubRecord {
	var out []pubRecord
	for _, rec := range f.records() {
		if rec.topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

// frameRecorder captures command frames from the device layer.
type frameRecorder struct {
	mu     sync.Mutex
	frames []canbus.Frame
}

func (f *frameRecorder) Send(frame canbus.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	f.frames = append(f.frames, canbus.Frame{ID: frame.ID, Data: data})
	return nil
}

func (f *frameRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *frameRecorder) sent() []canbus.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]canbus.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

type testingTB interface {
	Fatalf(format string, args ...any)
	Helper()
}

// newTestDevice builds a Bloc9 with one light (s1) and one switch (s3).
func newTestDevice(tb testingTB, sender scheiber.FrameSender) *scheiber.Bloc9 {
	tb.Helper()
	device, err := scheiber.NewBloc9(7, []scheiber.OutputSpec{
		{SwitchNr: 0, Dimmable: true, EntityID: "saloon_main", Name: "Saloon Main"},
		{SwitchNr: 2, Dimmable: false, EntityID: "nav_light", Name: "Navigation Light"},
	}, sender, nil)
	if err != nil {
		tb.Fatalf("NewBloc9: %v", err)
	}
	return device
}
