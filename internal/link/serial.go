package link

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const DefaultSerialBaud = 9600

// SerialDriver talks to printers exposed as a serial port, such as a bound
// /dev/rfcommN on Linux or a Bluetooth COM port on Windows.
type SerialDriver struct {
	baud int
	log  *zap.Logger
	open func(name string, mode *serial.Mode) (serial.Port, error)
	list func() ([]string, error)
}

func NewSerialDriver(baud int, log *zap.Logger) *SerialDriver {
	if baud <= 0 {
		baud = DefaultSerialBaud
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialDriver{baud: baud, log: log, open: serial.Open, list: serial.GetPortsList}
}

// Connect opens the port named by address.
func (d *SerialDriver) Connect(ctx context.Context, address string, onDrop func(error)) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := d.open(address, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", address, err)
	}
	d.log.Debug("serial port open", zap.String("port", address), zap.Int("baud", d.baud))
	return &serialSession{port: port, onDrop: onDrop}, nil
}

// Scan lists the serial ports present right now.
func (d *SerialDriver) Scan(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(ports))
	for _, p := range ports {
		devices = append(devices, DeviceInfo{Address: p})
	}
	return devices, nil
}

type serialSession struct {
	port     serial.Port
	onDrop   func(error)
	dropOnce sync.Once
}

// Discover is a no-op: a serial link has a single byte stream.
func (s *serialSession) Discover(ctx context.Context, service, characteristic string) error {
	return ctx.Err()
}

// Write reports a drop on failure, since a serial port gives no other
// disconnect signal.
func (s *serialSession) Write(p []byte) error {
	if _, err := s.port.Write(p); err != nil {
		s.dropOnce.Do(func() {
			if s.onDrop != nil {
				go s.onDrop(err)
			}
		})
		return err
	}
	return nil
}

func (s *serialSession) Close() error {
	s.dropOnce.Do(func() {})
	return s.port.Close()
}
