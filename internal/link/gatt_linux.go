//go:build linux

package link

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// GATTDriver connects to BLE printers through the host's default adapter (BlueZ).
type GATTDriver struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger

	enableOnce sync.Once
	enableErr  error

	mu    sync.Mutex
	drops map[string]func(error) // keyed by upper-case MAC
}

// NewGATTDriver returns a driver bound to bluetooth.DefaultAdapter.
func NewGATTDriver(log *zap.Logger) *GATTDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &GATTDriver{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		drops:   make(map[string]func(error)),
	}
}

func (d *GATTDriver) enable() error {
	d.enableOnce.Do(func() {
		if err := d.adapter.Enable(); err != nil {
			d.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
			return
		}
		d.adapter.SetConnectHandler(d.handleConnectEvent)
	})
	return d.enableErr
}

func (d *GATTDriver) handleConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	key := strings.ToUpper(device.Address.String())
	d.mu.Lock()
	onDrop := d.drops[key]
	delete(d.drops, key)
	d.mu.Unlock()
	if onDrop != nil {
		onDrop(ErrLinkLost)
	}
}

// Connect parses address as a MAC and opens a GATT connection to it.
func (d *GATTDriver) Connect(ctx context.Context, address string, onDrop func(error)) (Session, error) {
	if err := d.enable(); err != nil {
		return nil, err
	}
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", address, err)
	}
	target := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := d.adapter.Connect(target, bluetooth.ConnectionParams{})
		ch <- result{device: dev, err: err}
	}()

	select {
	case <-ctx.Done():
		// Release a connection that completes after we gave up on it.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("gatt connect %s: %w", address, r.err)
		}
		key := strings.ToUpper(address)
		d.mu.Lock()
		d.drops[key] = onDrop
		d.mu.Unlock()
		d.log.Debug("gatt connected", zap.String("address", address))
		return &gattSession{driver: d, key: key, device: r.device}, nil
	}
}

// Scan listens for advertisements until ctx is done and returns one entry
// per address, strongest signal first.
func (d *GATTDriver) Scan(ctx context.Context) ([]DeviceInfo, error) {
	if err := d.enable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	seen := make(map[string]DeviceInfo)

	stop := context.AfterFunc(ctx, func() { _ = d.adapter.StopScan() })
	defer stop()

	err := d.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		addr := strings.ToUpper(r.Address.String())
		mu.Lock()
		defer mu.Unlock()
		info := seen[addr]
		info.Address = addr
		info.RSSI = int(r.RSSI)
		if name := r.LocalName(); name != "" {
			info.Name = name
		}
		seen[addr] = info
	})
	if err != nil {
		return nil, fmt.Errorf("bluetooth scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]DeviceInfo, 0, len(seen))
	for _, info := range seen {
		devices = append(devices, info)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })
	return devices, nil
}

type gattSession struct {
	driver *GATTDriver
	key    string
	device bluetooth.Device

	mu     sync.Mutex
	char   bluetooth.DeviceCharacteristic
	hasChr bool
}

func (s *gattSession) Discover(ctx context.Context, service, characteristic string) error {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return fmt.Errorf("parse service uuid: %w", err)
	}
	chrUUID, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return fmt.Errorf("parse characteristic uuid: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	services, err := s.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("%w: service %s: %v", ErrServiceNotFound, service, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
	if err != nil || len(chars) == 0 {
		return fmt.Errorf("%w: characteristic %s: %v", ErrServiceNotFound, characteristic, err)
	}

	s.mu.Lock()
	s.char = chars[0]
	s.hasChr = true
	s.mu.Unlock()
	return nil
}

func (s *gattSession) Write(p []byte) error {
	s.mu.Lock()
	char, ok := s.char, s.hasChr
	s.mu.Unlock()
	if !ok {
		return ErrServiceNotFound
	}
	_, err := char.WriteWithoutResponse(p)
	return err
}

func (s *gattSession) Close() error {
	s.driver.mu.Lock()
	delete(s.driver.drops, s.key)
	s.driver.mu.Unlock()
	return s.device.Disconnect()
}
