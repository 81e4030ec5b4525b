// Package link owns the wireless connection to the receipt printer.
//
// A Driver is the radio-level capability (connect, write, drop notification).
// The Manager drives one Driver through the connection state machine and
// reconnects on its own after the link drops.
package link

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotReady        = errors.New("link not ready")
	ErrWriteFailed     = errors.New("link write failed")
	ErrServiceNotFound = errors.New("printer service or characteristic not found")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrLinkLost        = errors.New("link lost")
	ErrShutdown        = errors.New("link manager shut down")
)

// GATT identifiers of the printer's write characteristic.
const (
	PrinterServiceUUID        = "000018f0-0000-1000-8000-00805f9b34fb"
	PrinterCharacteristicUUID = "00002af1-0000-1000-8000-00805f9b34fb"
)

// Driver opens links to a device address.
type Driver interface {
	// Connect blocks until the link is up, fails, or ctx is done.
	// onDrop is called at most once, from any goroutine, when an established
	// link is lost.
	Connect(ctx context.Context, address string, onDrop func(error)) (Session, error)
}

// Scanner lists devices a Driver could connect to.
type Scanner interface {
	// Scan collects devices until ctx is done.
	Scan(ctx context.Context) ([]DeviceInfo, error)
}

// DeviceInfo is one scan hit. Address is what Connect expects.
type DeviceInfo struct {
	Address string
	Name    string
	RSSI    int
}

// Session is one established link.
type Session interface {
	// Discover locates the write target. It returns ErrServiceNotFound when
	// the device does not expose it.
	Discover(ctx context.Context, service, characteristic string) error
	// Write hands p to the link layer.
	Write(p []byte) error
	Close() error
}
