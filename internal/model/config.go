package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfigInvalid is returned when an agent is started with incomplete configuration.
var ErrConfigInvalid = errors.New("config invalid")

// --- Configuration Structures ---

// AgentConfig is the per-run configuration handed to the agent on start.
// It is never mutated after the agent accepts it.
type AgentConfig struct {
	OrgID         string `json:"orgId" yaml:"org_id"`
	BaseURL       string `json:"baseUrl" yaml:"base_url"`
	AuthToken     string `json:"authToken,omitempty" yaml:"auth_token"`
	DeviceAddress string `json:"deviceAddress" yaml:"device_address"`
}

// Validate reports the first missing required field.
func (c AgentConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.OrgID) == "" {
		missing = append(missing, "orgId")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "baseUrl")
	}
	if strings.TrimSpace(c.DeviceAddress) == "" {
		missing = append(missing, "deviceAddress")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfigInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// Complete is true when every required field is set.
func (c AgentConfig) Complete() bool {
	return c.Validate() == nil
}

type LinkConfig struct {
	Driver             string        `yaml:"driver"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	SerialBaud         int           `yaml:"serial_baud"`
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
}

type TransferConfig struct {
	ChunkSize  int           `yaml:"chunk_size"`
	WriteDelay time.Duration `yaml:"write_delay"`
}

type PollerConfig struct {
	InitialDelay   time.Duration `yaml:"initial_delay"`
	Interval       time.Duration `yaml:"interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PreviewConfig struct {
	WidthPx    int    `yaml:"width_px"`
	ChromePath string `yaml:"chrome_path"`
}

// Config is the on-disk agent configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Link     LinkConfig     `yaml:"link"`
	Transfer TransferConfig `yaml:"transfer"`
	Poller   PollerConfig   `yaml:"poller"`
	Control  ControlConfig  `yaml:"control"`
	Logging  LoggingConfig  `yaml:"logging"`
	Preview  PreviewConfig  `yaml:"preview"`
}

// Settings are the tunables shared by every run of one agent.
type Settings struct {
	Link     LinkConfig
	Transfer TransferConfig
	Poller   PollerConfig
}

// Settings extracts the run tunables from the file config.
func (c *Config) Settings() Settings {
	return Settings{
		Link:     c.Link,
		Transfer: c.Transfer,
		Poller:   c.Poller,
	}
}
