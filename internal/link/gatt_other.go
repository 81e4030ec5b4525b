//go:build !linux

package link

import (
	"context"

	"go.uber.org/zap"
)

// GATTDriver is unavailable off Linux; use the serial driver with the
// device's Bluetooth COM port instead.
type GATTDriver struct {
	log *zap.Logger
}

func NewGATTDriver(log *zap.Logger) *GATTDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &GATTDriver{log: log}
}

func (d *GATTDriver) Connect(ctx context.Context, address string, onDrop func(error)) (Session, error) {
	return nil, ErrNotSupported
}

func (d *GATTDriver) Scan(ctx context.Context) ([]DeviceInfo, error) {
	return nil, ErrNotSupported
}
