package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Riboost-Studio/print-queue-agent/internal/link"
	"github.com/Riboost-Studio/print-queue-agent/internal/model"
)

const (
	DriverGATT   = "gatt"
	DriverSerial = "serial"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *model.Config {
	return &model.Config{
		Link: model.LinkConfig{
			Driver:             DriverGATT,
			ReconnectDelay:     link.DefaultReconnectDelay,
			SerialBaud:         link.DefaultSerialBaud,
			ServiceUUID:        link.PrinterServiceUUID,
			CharacteristicUUID: link.PrinterCharacteristicUUID,
		},
		Transfer: model.TransferConfig{
			ChunkSize:  100,
			WriteDelay: 50 * time.Millisecond,
		},
		Poller: model.PollerConfig{
			InitialDelay:   2 * time.Second,
			Interval:       10 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    10 * time.Second,
		},
		Control: model.ControlConfig{
			ListenAddr: "127.0.0.1:8787",
		},
		Logging: model.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Preview: model.PreviewConfig{
			WidthPx: 384,
		},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func LoadConfig(path string) (*model.Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg from PRINT_AGENT_* variables.
func ApplyEnv(cfg *model.Config) {
	if v := os.Getenv("PRINT_AGENT_ORG_ID"); v != "" {
		cfg.Agent.OrgID = v
	}
	if v := os.Getenv("PRINT_AGENT_BASE_URL"); v != "" {
		cfg.Agent.BaseURL = v
	}
	if v := os.Getenv("PRINT_AGENT_AUTH_TOKEN"); v != "" {
		cfg.Agent.AuthToken = v
	}
	if v := os.Getenv("PRINT_AGENT_DEVICE_ADDRESS"); v != "" {
		cfg.Agent.DeviceAddress = v
	}
	if v := os.Getenv("PRINT_AGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PRINT_AGENT_CONTROL_ADDR"); v != "" {
		cfg.Control.ListenAddr = v
	}
}

// ValidateConfig checks the tunables. The agent section is validated
// separately when a run starts, since it may be supplied later.
func ValidateConfig(cfg *model.Config) error {
	switch cfg.Link.Driver {
	case DriverGATT, DriverSerial:
	default:
		return fmt.Errorf("invalid link driver: %s (valid: gatt, serial)", cfg.Link.Driver)
	}
	if cfg.Link.ReconnectDelay <= 0 {
		return fmt.Errorf("link reconnect delay must be positive")
	}
	if cfg.Transfer.ChunkSize < 1 {
		return fmt.Errorf("transfer chunk size must be at least 1")
	}
	if cfg.Transfer.WriteDelay < 0 {
		return fmt.Errorf("transfer write delay must be non-negative")
	}
	if cfg.Poller.InitialDelay < 0 {
		return fmt.Errorf("poller initial delay must be non-negative")
	}
	if cfg.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}
	if cfg.Poller.ConnectTimeout <= 0 || cfg.Poller.ReadTimeout <= 0 {
		return fmt.Errorf("poller timeouts must be positive")
	}
	if cfg.Control.ListenAddr == "" {
		return fmt.Errorf("control listen address is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", cfg.Logging.Format)
	}
	return nil
}

// SaveConfig writes cfg as YAML, creating the parent directory.
func SaveConfig(path string, cfg *model.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
