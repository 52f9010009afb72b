package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ConnectorType identifies which channel backend carries the serial stream.
type ConnectorType string

const (
	ConnectorRFCOMM ConnectorType = "rfcomm"
	ConnectorSerial ConnectorType = "serial"
	ConnectorTCP    ConnectorType = "tcp"
	ConnectorBLE    ConnectorType = "ble"

	DefaultSerialBaud       = 9600
	DefaultRFCOMMChannel    = 1
	DefaultConnectTimeoutMS = 15000
	DefaultReadTimeoutMS    = 10000
	DefaultMaxFrameBytes    = 4096
	DefaultHistoryKeep      = 1000

	maxRFCOMMChannel = 30
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
// Device is interpreted by the connector: a Bluetooth address for rfcomm and
// ble, a port name for serial and host:port for tcp.
type ConnectionConfig struct {
	Connector ConnectorType `json:"connector"`
	Device    string        `json:"device"`
	// RFCOMMChannel is used as is; it is not resolved through SDP.
	RFCOMMChannel    int    `json:"rfcomm_channel"`
	BluetoothAdapter string `json:"bluetooth_adapter"`
	SerialBaud       int    `json:"serial_baud"`
}

// SessionConfig bounds the blocking operations of the link session.
type SessionConfig struct {
	ConnectTimeoutMS int `json:"connect_timeout_ms"`
	// ReadTimeoutMS of 0 disables the telemetry read timeout.
	ReadTimeoutMS int `json:"read_timeout_ms"`
	MaxFrameBytes int `json:"max_frame_bytes"`
}

func (c SessionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c SessionConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// HistoryConfig controls the local telemetry history.
type HistoryConfig struct {
	Enabled bool `json:"enabled"`
	Keep    int  `json:"keep"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	OnError bool `json:"on_error"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection"`
	Session       SessionConfig      `json:"session"`
	Logging       LoggingConfig      `json:"logging"`
	History       HistoryConfig      `json:"history"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:        ConnectorRFCOMM,
			Device:           "",
			RFCOMMChannel:    DefaultRFCOMMChannel,
			BluetoothAdapter: "",
			SerialBaud:       DefaultSerialBaud,
		},
		Session: SessionConfig{
			ConnectTimeoutMS: DefaultConnectTimeoutMS,
			ReadTimeoutMS:    DefaultReadTimeoutMS,
			MaxFrameBytes:    DefaultMaxFrameBytes,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		History: HistoryConfig{
			Enabled: true,
			Keep:    DefaultHistoryKeep,
		},
		Notifications: NotificationConfig{
			OnError: false,
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
	c.Connection.Connector = ConnectorType(strings.ToLower(strings.TrimSpace(string(c.Connection.Connector))))
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorRFCOMM
	}
	c.Connection.Device = strings.TrimSpace(c.Connection.Device)
	if c.Connection.RFCOMMChannel == 0 {
		c.Connection.RFCOMMChannel = DefaultRFCOMMChannel
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Session.ConnectTimeoutMS <= 0 {
		c.Session.ConnectTimeoutMS = DefaultConnectTimeoutMS
	}
	if c.Session.ReadTimeoutMS < 0 {
		c.Session.ReadTimeoutMS = 0
	}
	if c.Session.MaxFrameBytes <= 0 {
		c.Session.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.History.Keep <= 0 {
		c.History.Keep = DefaultHistoryKeep
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorRFCOMM:
		if c.Connection.RFCOMMChannel < 1 || c.Connection.RFCOMMChannel > maxRFCOMMChannel {
			return fmt.Errorf("rfcomm channel must be in 1..%d", maxRFCOMMChannel)
		}
	case ConnectorSerial:
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorTCP, ConnectorBLE:
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}
	if c.Session.ConnectTimeoutMS <= 0 {
		return errors.New("connect timeout must be positive")
	}
	if c.Session.ReadTimeoutMS < 0 {
		return errors.New("read timeout must not be negative")
	}
	if c.Session.MaxFrameBytes <= 0 {
		return errors.New("max frame bytes must be positive")
	}
	if c.History.Keep <= 0 {
		return errors.New("history keep must be positive")
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
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
