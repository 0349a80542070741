package canbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sockcan "github.com/brutella/can"
)

// Stats notification cadence.
const statsInterval = 10 * time.Second

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// socketBus is the subset of *can.Bus the client uses.
// Extracted as an interface so tests can substitute a fake socket.
type socketBus interface {
	Publish(frame sockcan.Frame) error
	Subscribe(handler sockcan.Handler)
	ConnectAndPublish() error
	Disconnect() error
}

// Ensure Client implements Connector and the brutella/can handler.
var (
	_ Connector       = (*Client)(nil)
	_ sockcan.Handler = (*Client)(nil)
)

// Client is a SocketCAN endpoint for the Scheiber bus.
//
// It wraps brutella/can: frames are received on a dedicated goroutine and
// fanned into a single callback; sends are safe under concurrent use.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The frame callback is invoked from the receive goroutine; panics in
//     the callback are recovered and logged.
type Client struct {
	iface    string
	readOnly bool
	bus      socketBus

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Frame handler callback
	onFrame    func(Frame)
	callbackMu sync.RWMutex

	// Shutdown coordination
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx    atomic.Uint64
	framesRx    atomic.Uint64
	errorsTotal atomic.Uint64
	startTime   atomic.Int64 // Unix timestamp, 0 if not started

	// Distinct arbitration IDs seen on the bus.
	idsMu     sync.Mutex
	uniqueIDs map[uint32]struct{}

	// Stats observers, notified every statsInterval.
	statsMu        sync.Mutex
	statsObservers []func(Stats)
}

// Open opens the named SocketCAN interface and starts the receive loop.
//
// Parameters:
//   - iface: interface name (e.g., "can0")
//   - readOnly: when true, Send drops frames instead of transmitting
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the interface cannot be opened
func Open(iface string, readOnly bool) (*Client, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnectionFailed, iface, err)
	}
	c := newClient(iface, readOnly, bus)
	c.start()
	return c, nil
}

// newClient builds a client around a socket bus. Split from Open for tests.
func newClient(iface string, readOnly bool, bus socketBus) *Client {
	return &Client{
		iface:     iface,
		readOnly:  readOnly,
		bus:       bus,
		done:      make(chan struct{}),
		uniqueIDs: make(map[uint32]struct{}),
	}
}

// start subscribes to the socket and launches the receive and stats loops.
func (c *Client) start() {
	c.bus.Subscribe(c)

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	c.startTime.Store(time.Now().Unix())

	c.wg.Add(1)
	go c.receiveLoop()

	c.wg.Add(1)
	go c.statsLoop()
}

// receiveLoop runs the blocking socket read until Close.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	err := c.bus.ConnectAndPublish()

	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if err != nil && wasConnected && !c.isClosed() {
		c.errorsTotal.Add(1)
		c.logError("receive loop terminated", err)
	}
}

// Handle implements the brutella/can frame handler. It strips flag bits,
// updates counters and forwards the frame to the registered callback.
func (c *Client) Handle(frame sockcan.Frame) {
	id := frame.ID & MaskExtendedID

	length := int(frame.Length)
	if length > maxFrameData {
		length = maxFrameData
	}
	data := make([]byte, length)
	copy(data, frame.Data[:length])

	c.framesRx.Add(1)
	c.idsMu.Lock()
	c.uniqueIDs[id] = struct{}{}
	c.idsMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onFrame
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("frame callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(Frame{ID: id, Data: data})
}

// Send transmits one frame with the extended-identifier flag set.
//
// In read-only mode the frame is logged at warn and dropped without error.
//
// Returns:
//   - error: ErrNotConnected, ErrFrameTooLong, or wrapped ErrSendFailed
func (c *Client) Send(frame Frame) error {
	if len(frame.Data) > maxFrameData {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(frame.Data))
	}

	if c.readOnly {
		c.logWarn("read-only mode, dropping frame", "id", fmt.Sprintf("0x%08X", frame.ID))
		return nil
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	out := sockcan.Frame{
		ID:     frame.ID | FlagExtended,
		Length: uint8(len(frame.Data)),
	}
	copy(out.Data[:], frame.Data)

	if err := c.bus.Publish(out); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	c.logDebug("CAN TX", "id", fmt.Sprintf("0x%08X", frame.ID), "data", fmt.Sprintf("%X", frame.Data))
	return nil
}

// SetOnFrame registers the single inbound-frame callback.
//
// The callback is invoked from the receive goroutine for every frame on
// the bus. Panics in the callback are recovered and logged.
func (c *Client) SetOnFrame(callback func(Frame)) {
	c.callbackMu.Lock()
	c.onFrame = callback
	c.callbackMu.Unlock()
}

// SubscribeStats registers an observer for periodic statistics updates.
// Observers are notified every 10 seconds while the client is open.
func (c *Client) SubscribeStats(callback func(Stats)) {
	c.statsMu.Lock()
	c.statsObservers = append(c.statsObservers, callback)
	c.statsMu.Unlock()
}

// statsLoop notifies stats observers at a fixed cadence.
func (c *Client) statsLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			stats := c.Stats()
			c.statsMu.Lock()
			observers := make([]func(Stats), len(c.statsObservers))
			copy(observers, c.statsObservers)
			c.statsMu.Unlock()

			for _, observer := range observers {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("stats observer panic", fmt.Errorf("%v", r))
						}
					}()
					observer(stats)
				}()
			}
		}
	}
}

// IsConnected reports whether the interface is open.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// isClosed returns true if Close has been called.
func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the I/O counters.
func (c *Client) Stats() Stats {
	c.idsMu.Lock()
	unique := len(c.uniqueIDs)
	c.idsMu.Unlock()

	var uptime float64
	if start := c.startTime.Load(); start > 0 {
		uptime = time.Since(time.Unix(start, 0)).Seconds()
	}

	return Stats{
		FramesTx:    c.framesTx.Load(),
		FramesRx:    c.framesRx.Load(),
		UniqueIDs:   unique,
		ErrorsTotal: c.errorsTotal.Load(),
		Uptime:      uptime,
		Connected:   c.IsConnected(),
		ReadOnly:    c.readOnly,
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Close shuts the receive loop down and closes the socket.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()

		// Unblocks ConnectAndPublish
		if err := c.bus.Disconnect(); err != nil {
			c.logError("disconnect failed", err)
		}

		c.wg.Wait()
		c.logInfo("CAN interface closed", "interface", c.iface)
	})
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
