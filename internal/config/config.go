package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorSerial ConnectorType = "serial"
	ConnectorTCP    ConnectorType = "tcp"

	DefaultSerialBaud = 57600
	DefaultTCPPort    = 5760

	// MAVLink addressing defaults: autopilot 1/1, this GCS 255/190.
	DefaultTargetSystem    = 1
	DefaultTargetComponent = 1
	DefaultGCSSystem       = 255
	DefaultGCSComponent    = 190
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector"`
	SerialPort string        `json:"serial_port"`
	SerialBaud int           `json:"serial_baud"`
	Host       string        `json:"host"`
	TCPPort    int           `json:"tcp_port"`
}

// FCConfig holds MAVLink addressing and the command timeout budget.
type FCConfig struct {
	TargetSystem     uint8 `json:"target_system"`
	TargetComponent  uint8 `json:"target_component"`
	GCSSystem        uint8 `json:"gcs_system"`
	GCSComponent     uint8 `json:"gcs_component"`
	AckTimeoutMS     int   `json:"ack_timeout_ms"`
	MaxRetries       int   `json:"max_retries"`
	OutcomeTimeoutMS int   `json:"outcome_timeout_ms"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	FC         FCConfig         `json:"fc"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			SerialPort: "",
			SerialBaud: DefaultSerialBaud,
			Host:       "",
			TCPPort:    DefaultTCPPort,
		},
		FC: FCConfig{
			TargetSystem:     DefaultTargetSystem,
			TargetComponent:  DefaultTargetComponent,
			GCSSystem:        DefaultGCSSystem,
			GCSComponent:     DefaultGCSComponent,
			AckTimeoutMS:     5000,
			MaxRetries:       1,
			OutcomeTimeoutMS: 10000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorSerial
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.TCPPort <= 0 {
		c.Connection.TCPPort = DefaultTCPPort
	}
	if c.FC.TargetSystem == 0 {
		c.FC.TargetSystem = DefaultTargetSystem
	}
	if c.FC.TargetComponent == 0 {
		c.FC.TargetComponent = DefaultTargetComponent
	}
	if c.FC.GCSSystem == 0 {
		c.FC.GCSSystem = DefaultGCSSystem
	}
	if c.FC.GCSComponent == 0 {
		c.FC.GCSComponent = DefaultGCSComponent
	}
	if c.FC.AckTimeoutMS <= 0 {
		c.FC.AckTimeoutMS = 5000
	}
	if c.FC.MaxRetries < 0 {
		c.FC.MaxRetries = 0
	}
	if c.FC.OutcomeTimeoutMS <= 0 {
		c.FC.OutcomeTimeoutMS = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorTCP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("tcp host is required")
		}
		if c.Connection.TCPPort <= 0 {
			return errors.New("tcp port must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	return nil
}
