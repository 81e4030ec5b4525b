// Package linktest provides a scriptable link.Driver for tests.
package linktest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
)

// Driver is an in-memory link.Driver. The zero value connects immediately,
// finds the printer characteristic and accepts every write.
type Driver struct {
	mu          sync.Mutex
	connects    int
	connectErr  error
	discoverErr error
	hold        chan struct{}
	onWrite     func(n int, p []byte) error
	writes      [][]byte
	current     *Session
}

// SetConnectErr makes subsequent Connect calls fail with err.
func (d *Driver) SetConnectErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// SetDiscoverErr makes subsequent Discover calls fail with err.
func (d *Driver) SetDiscoverErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discoverErr = err
}

// Hold makes Connect block until Release is called or its ctx is done.
func (d *Driver) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hold = make(chan struct{})
}

// Release unblocks connects parked by Hold.
func (d *Driver) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hold != nil {
		close(d.hold)
		d.hold = nil
	}
}

// OnWrite installs a hook called with the 1-based write number before each
// write is recorded. A non-nil error fails the write.
func (d *Driver) OnWrite(fn func(n int, p []byte) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onWrite = fn
}

// Connects returns how many connection attempts were made.
func (d *Driver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Writes returns a copy of every accepted write, in order.
func (d *Driver) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	for i, w := range d.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Written returns the concatenation of every accepted write.
func (d *Driver) Written() []byte {
	return bytes.Join(d.Writes(), nil)
}

// Reset forgets recorded writes.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// Drop simulates the device going away on the current session.
func (d *Driver) Drop() {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()
	if s != nil {
		s.drop(link.ErrLinkLost)
	}
}

// Current returns the most recent session, or nil.
func (d *Driver) Current() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Driver) Connect(ctx context.Context, address string, onDrop func(error)) (link.Session, error) {
	d.mu.Lock()
	d.connects++
	hold := d.hold
	err := d.connectErr
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := &Session{driver: d, address: address, onDrop: onDrop}
	d.mu.Lock()
	d.current = s
	d.mu.Unlock()
	return s, nil
}

// Session is a fake established link.
type Session struct {
	driver  *Driver
	address string
	onDrop  func(error)

	mu     sync.Mutex
	lost   bool
	closed bool
}

var errClosed = errors.New("session closed")

func (s *Session) Discover(ctx context.Context, service, characteristic string) error {
	s.driver.mu.Lock()
	err := s.driver.discoverErr
	s.driver.mu.Unlock()
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	lost, closed := s.lost, s.closed
	s.mu.Unlock()
	if lost {
		return link.ErrLinkLost
	}
	if closed {
		return errClosed
	}

	d := s.driver
	d.mu.Lock()
	hook := d.onWrite
	n := len(d.writes) + 1
	d.mu.Unlock()
	if hook != nil {
		if err := hook(n, p); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.writes = append(d.writes, append([]byte(nil), p...))
	d.mu.Unlock()
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) drop(cause error) {
	s.mu.Lock()
	if s.lost {
		s.mu.Unlock()
		return
	}
	s.lost = true
	s.mu.Unlock()
	if s.onDrop != nil {
		s.onDrop(cause)
	}
}
