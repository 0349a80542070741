package scheiber

import (
	"sync"

	"github.com/nerrad567/scheiber-bridge/internal/canbus"
)

// recordingSender captures command frames handed to the CAN sink.
type recordingSender struct {
	mu     sync.Mutex
	frames []canbus.Frame
	err    error
}

func (r *recordingSender) Send(frame canbus.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	// Copy the payload so later mutations don't alias.
	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	r.frames = append(r.frames, canbus.Frame{ID: frame.ID, Data: data})
	return nil
}

func (r *recordingSender) sent() []canbus.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]canbus.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingSender) last() (canbus.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return canbus.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// fakeBus is an in-memory canbus.Connector for system tests.
type fakeBus struct {
	recordingSender
	cbMu    sync.Mutex
	onFrame func(canbus.Frame)
	closed  bool
}

func (f *fakeBus) SetOnFrame(callback func(canbus.Frame)) {
	f.cbMu.Lock()
	f.onFrame = callback
	f.cbMu.Unlock()
}

func (f *fakeBus) IsConnected() bool { return !f.closed }

func (f *fakeBus) Stats() canbus.Stats { return canbus.Stats{Connected: !f.closed} }

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

// inject delivers a frame as if received from the wire.
func (f *fakeBus) inject(frame canbus.Frame) {
	f.cbMu.Lock()
	callback := f.onFrame
	f.cbMu.Unlock()
	if callback != nil {
		callback(frame)
	}
}

// snapshotRecorder collects observer notifications.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *snapshotRecorder) observe(snap Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *snapshotRecorder) all() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

func (s *snapshotRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}
