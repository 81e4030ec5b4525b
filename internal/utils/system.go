package utils

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// SystemInfo holds information about the current system
type SystemInfo struct {
	OS           string
	Architecture string
}

// DetectSystem returns information about the current operating system and architecture
func DetectSystem() SystemInfo {
	return SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

// CheckResult is one line of the `check` report.
type CheckResult struct {
	Name     string
	OK       bool
	Required bool
	Detail   string
	Hint     string
}

// RunChecks reports what the agent needs from the host for the given link
// driver. Chrome is only needed for previews.
func RunChecks(ctx context.Context, driver string) []CheckResult {
	var results []CheckResult
	switch driver {
	case DriverGATT:
		results = append(results, checkBluetoothAdapter(), checkBinary(ctx, "bluetoothctl", false, bluezHint()))
	case DriverSerial:
		results = append(results, checkSerialPorts())
	}

	chrome := CheckResult{Name: "chrome", Hint: chromeHint(runtime.GOOS)}
	if ok, path := CheckChrome(); ok {
		chrome.OK = true
		chrome.Detail = path + " " + commandVersion(ctx, path)
	} else {
		chrome.Detail = "not found, previews are unavailable"
	}
	return append(results, chrome)
}

// Failed reports whether a required check did not pass.
func Failed(results []CheckResult) bool {
	for _, r := range results {
		if r.Required && !r.OK {
			return true
		}
	}
	return false
}

// --------------------------------------
// BLUETOOTH CHECK
// --------------------------------------

func checkBluetoothAdapter() CheckResult {
	r := CheckResult{Name: "bluetooth adapter", Required: true, Hint: bluezHint()}
	if runtime.GOOS != "linux" {
		r.Detail = "the gatt driver needs Linux; use link.driver: serial with the printer's COM port"
		return r
	}
	adapters, _ := filepath.Glob("/sys/class/bluetooth/hci*")
	if len(adapters) == 0 {
		r.Detail = "no adapter under /sys/class/bluetooth"
		return r
	}
	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = filepath.Base(a)
	}
	r.OK = true
	r.Detail = strings.Join(names, ", ")
	return r
}

func checkSerialPorts() CheckResult {
	r := CheckResult{Name: "serial ports", Required: true}
	var patterns []string
	switch runtime.GOOS {
	case "linux":
		patterns = []string{"/dev/rfcomm*", "/dev/ttyUSB*", "/dev/ttyACM*"}
		r.Hint = "bind the printer with: sudo rfcomm bind 0 <MAC>"
	case "darwin":
		patterns = []string{"/dev/cu.*"}
		r.Hint = "pair the printer in System Settings > Bluetooth"
	default:
		r.OK = true
		r.Detail = "not probed on " + runtime.GOOS
		return r
	}
	var found []string
	for _, p := range patterns {
		m, _ := filepath.Glob(p)
		found = append(found, m...)
	}
	if len(found) == 0 {
		r.Detail = "no candidate port found"
		return r
	}
	r.OK = true
	r.Detail = strings.Join(found, ", ")
	return r
}

func checkBinary(ctx context.Context, name string, required bool, hint string) CheckResult {
	r := CheckResult{Name: name, Required: required, Hint: hint}
	path, err := exec.LookPath(name)
	if err != nil {
		r.Detail = "not found"
		return r
	}
	r.OK = true
	r.Detail = path + " " + commandVersion(ctx, path)
	return r
}

// --------------------------------------
// CHROME CHECK
// --------------------------------------

// CheckChrome checks if google-chrome or chromium is installed
func CheckChrome() (bool, string) {
	binaries := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
	}
	for _, bin := range binaries {
		path, err := exec.LookPath(bin)
		if err == nil {
			return true, path
		}
	}

	for _, path := range getCommonChromePaths() {
		if _, err := os.Stat(path); err == nil {
			return true, path
		}
	}
	return false, ""
}

// getCommonChromePaths returns common Chrome/Chromium installation paths
func getCommonChromePaths() []string {
	switch runtime.GOOS {
	case "darwin": // macOS
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return []string{}
	}
}

// commandVersion runs `path --version`, bounded by a short timeout.
func commandVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "(version unknown)"
	}
	return "(" + strings.TrimSpace(string(output)) + ")"
}

// --------------------------------------
// INSTALLATION HINTS
// --------------------------------------

func bluezHint() string {
	return "install BlueZ (e.g. sudo apt install bluez) and make sure bluetooth.service is running"
}

func chromeHint(osType string) string {
	switch osType {
	case "linux":
		return "sudo apt install chromium-browser, or set preview.chrome_path"
	case "darwin":
		return "brew install --cask google-chrome"
	case "windows":
		return "download Google Chrome from https://www.google.com/chrome/"
	default:
		return "install Chrome or Chromium, or set preview.chrome_path"
	}
}
