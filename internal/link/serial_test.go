package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type fakePort struct {
	serial.Port

	mu       sync.Mutex
	written  []byte
	writeErr error
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newTestSerialDriver(port *fakePort, openErr error) (*SerialDriver, *serial.Mode) {
	d := NewSerialDriver(0, nil)
	var got serial.Mode
	d.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		got = *mode
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	return d, &got
}

func TestSerialConnectUsesDefaultMode(t *testing.T) {
	port := &fakePort{}
	d, mode := newTestSerialDriver(port, nil)

	s, err := d.Connect(context.Background(), "/dev/rfcomm0", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSerialBaud, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)

	require.NoError(t, s.Discover(context.Background(), PrinterServiceUUID, PrinterCharacteristicUUID))
	require.NoError(t, s.Write([]byte("abc")))
	require.NoError(t, s.Close())
	assert.Equal(t, []byte("abc"), port.written)
	assert.True(t, port.closed)
}

func TestSerialConnectOpenFailure(t *testing.T) {
	d, _ := newTestSerialDriver(nil, errors.New("no such file"))
	_, err := d.Connect(context.Background(), "/dev/rfcomm9", nil)
	assert.ErrorContains(t, err, "/dev/rfcomm9")
}

func TestSerialWriteFailureReportsDropOnce(t *testing.T) {
	port := &fakePort{writeErr: errors.New("i/o error")}
	d, _ := newTestSerialDriver(port, nil)

	var mu sync.Mutex
	drops := 0
	s, err := d.Connect(context.Background(), "/dev/rfcomm0", func(error) {
		mu.Lock()
		drops++
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Error(t, s.Write([]byte("a")))
	assert.Error(t, s.Write([]byte("b")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drops == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, drops)
	mu.Unlock()
}

func TestSerialScanListsPorts(t *testing.T) {
	d := NewSerialDriver(115200, nil)
	d.list = func() ([]string, error) { return []string{"/dev/rfcomm0", "/dev/ttyUSB0"}, nil }

	devices, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []DeviceInfo{{Address: "/dev/rfcomm0"}, {Address: "/dev/ttyUSB0"}}, devices)
}
