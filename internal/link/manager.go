package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	msgQueueSize          = 32
)

// Link events. Each carries the generation of the attempt it belongs to so
// that events from a superseded attempt are dropped.
type (
	connectRequest struct{}
	connected      struct {
		gen     uint64
		session Session
	}
	connectFailed struct {
		gen uint64
		err error
	}
	dropped struct {
		gen uint64
		err error
	}
	discovered struct {
		gen uint64
		err error
	}
	reconnectDue struct{ gen uint64 }
)

type readyLink struct {
	gen     uint64
	session Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithReconnectDelay sets the constant delay before a reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithTarget overrides the service and characteristic looked up after connect.
func WithTarget(service, characteristic string) Option {
	return func(m *Manager) {
		if service != "" {
			m.service = service
		}
		if characteristic != "" {
			m.characteristic = characteristic
		}
	}
}

// WithStateObserver registers fn to be called on every state transition.
// fn runs on the event loop and must not block.
func WithStateObserver(fn func(from, to ConnectionState)) Option {
	return func(m *Manager) { m.onState = fn }
}

// Manager keeps one device link usable, reconnecting after drops.
//
// All state transitions happen on a single event-loop goroutine. Readers
// (IsReady, Write) only load atomics and never wait on the loop.
type Manager struct {
	driver         Driver
	address        string
	service        string
	characteristic string
	reconnectDelay time.Duration
	log            *zap.Logger
	onState        func(from, to ConnectionState)

	state atomic.Int32
	ready atomic.Pointer[readyLink]

	msgs     chan any
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// owned by the event loop
	gen     uint64
	session Session
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager starts the event loop for address. No connection is attempted
// until Connect is called.
func NewManager(driver Driver, address string, opts ...Option) *Manager {
	m := &Manager{
		driver:         driver,
		address:        address,
		service:        PrinterServiceUUID,
		characteristic: PrinterCharacteristicUUID,
		reconnectDelay: DefaultReconnectDelay,
		log:            zap.NewNop(),
		msgs:           make(chan any, msgQueueSize),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.state.Store(int32(StateDisconnected))
	go m.loop()
	return m
}

// Connect requests a connection. It is a no-op while a connection attempt
// is in progress or the link is up.
func (m *Manager) Connect() error {
	if !m.post(connectRequest{}) {
		return ErrShutdown
	}
	return nil
}

// State returns the current link state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// IsReady is true only in StateReady.
func (m *Manager) IsReady() bool {
	return m.State() == StateReady
}

// Write forwards p to the device. It fails with ErrNotReady unless the link
// is ready, and also when the link left the ready state during the write.
func (m *Manager) Write(p []byte) error {
	if m.State() != StateReady {
		return ErrNotReady
	}
	rl := m.ready.Load()
	if rl == nil {
		return ErrNotReady
	}
	if err := rl.session.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if m.ready.Load() != rl {
		return ErrNotReady
	}
	return nil
}

// Shutdown cancels any pending reconnect, closes the link and stops the
// event loop. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// post delivers msg to the event loop. It returns false once the loop exited.
func (m *Manager) post(msg any) bool {
	select {
	case <-m.stop:
		return false
	default:
	}
	select {
	case m.msgs <- msg:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// --- event loop ---

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			m.teardown()
			return
		case msg := <-m.msgs:
			m.handle(msg)
		}
	}
}

func (m *Manager) handle(msg any) {
	switch ev := msg.(type) {
	case connectRequest:
		m.startAttempt()

	case connected:
		if ev.gen != m.gen || m.State() != StateConnecting {
			_ = ev.session.Close()
			return
		}
		m.log.Info("link connected, discovering services", zap.String("address", m.address))
		m.session = ev.session
		m.setState(StateServicesDiscovering)
		m.discover(ev.gen, ev.session)

	case connectFailed:
		if ev.gen != m.gen {
			return
		}
		m.log.Warn("link connect failed",
			zap.String("address", m.address),
			zap.Duration("retry_in", m.reconnectDelay),
			zap.Error(ev.err),
		)
		m.setState(StateDisconnected)
		m.scheduleReconnect()

	case discovered:
		if ev.gen != m.gen || m.State() != StateServicesDiscovering {
			return
		}
		if ev.err != nil {
			// Stays connected but unusable until the link drops.
			m.log.Warn("printer characteristic unavailable",
				zap.String("service", m.service),
				zap.String("characteristic", m.characteristic),
				zap.Error(ev.err),
			)
			m.setState(StateDisconnected)
			return
		}
		m.ready.Store(&readyLink{gen: ev.gen, session: m.session})
		m.setState(StateReady)
		m.log.Info("printer ready", zap.String("address", m.address))

	case dropped:
		if ev.gen != m.gen {
			return
		}
		// A drop can overtake its own connected event; the late session is
		// closed when it arrives because the state is no longer connecting.
		if m.session == nil && m.State() != StateConnecting {
			return
		}
		m.log.Info("link disconnected",
			zap.String("address", m.address),
			zap.Duration("retry_in", m.reconnectDelay),
			zap.NamedError("cause", ev.err),
		)
		m.setState(StateDisconnected)
		m.closeSession()
		m.scheduleReconnect()

	case reconnectDue:
		if ev.gen != m.gen {
			return
		}
		m.timer = nil
		m.startAttempt()
	}
}

func (m *Manager) startAttempt() {
	if m.State() != StateDisconnected {
		m.log.Debug("connect ignored", zap.Stringer("state", m.State()))
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.closeSession()

	m.gen++
	gen := m.gen
	m.setState(StateConnecting)
	m.log.Debug("link connecting", zap.String("address", m.address), zap.Uint64("attempt", gen))

	ctx := m.ctx
	go func() {
		session, err := m.driver.Connect(ctx, m.address, func(cause error) {
			m.post(dropped{gen: gen, err: cause})
		})
		if err != nil {
			m.post(connectFailed{gen: gen, err: err})
			return
		}
		if !m.post(connected{gen: gen, session: session}) {
			_ = session.Close()
		}
	}()
}

func (m *Manager) discover(gen uint64, session Session) {
	ctx := m.ctx
	service, characteristic := m.service, m.characteristic
	go func() {
		err := session.Discover(ctx, service, characteristic)
		m.post(discovered{gen: gen, err: err})
	}()
}

func (m *Manager) scheduleReconnect() {
	if m.stopping() {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.reconnectDelay, func() {
		m.post(reconnectDue{gen: gen})
	})
}

func (m *Manager) closeSession() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.log.Debug("link close", zap.Error(err))
	}
	m.session = nil
}

func (m *Manager) setState(to ConnectionState) {
	if to != StateReady {
		m.ready.Store(nil)
	}
	from := ConnectionState(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.log.Debug("link state", zap.Stringer("from", from), zap.Stringer("to", to))
	if m.onState != nil {
		m.onState(from, to)
	}
}

func (m *Manager) teardown() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.cancel()
	m.setState(StateDisconnected)
	m.closeSession()
	m.log.Info("link shut down", zap.String("address", m.address))
}
