package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
)

const DefaultScanDuration = 8 * time.Second

// ErrNoDeviceSelected is returned when a scan ends without the operator
// picking a device.
var ErrNoDeviceSelected = errors.New("no device selected")

// --- Discovery Logic ---

// DiscoverPrinter scans for nearby devices and asks the operator, one hit at
// a time, which one is the printer. It returns the chosen address.
func DiscoverPrinter(ctx context.Context, scanner link.Scanner, d time.Duration, in io.Reader, out io.Writer, log *zap.Logger) (string, error) {
	if d <= 0 {
		d = DefaultScanDuration
	}
	if log == nil {
		log = zap.NewNop()
	}

	fmt.Fprintf(out, "Scanning for %s...\n", d)
	scanCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	devices, err := scanner.Scan(scanCtx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	log.Debug("scan finished", zap.Int("devices", len(devices)))

	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return "", ErrNoDeviceSelected
	}

	reader := bufio.NewReader(in)
	for _, dev := range devices {
		label := dev.Address
		if dev.Name != "" {
			label = fmt.Sprintf("%s (%s)", dev.Name, dev.Address)
		}
		if dev.RSSI != 0 {
			label = fmt.Sprintf("%s, RSSI %d dBm", label, dev.RSSI)
		}

		fmt.Fprintf(out, "Found %s. Use this printer? (y/n): ", label)
		ans, err := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(ans)) == "y" {
			return dev.Address, nil
		}
		if err != nil {
			break
		}
	}
	return "", ErrNoDeviceSelected
}
