package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Connection.Connector != ConnectorRFCOMM {
		t.Fatalf("expected default connector %q, got %q", ConnectorRFCOMM, cfg.Connection.Connector)
	}
	if cfg.Connection.RFCOMMChannel != DefaultRFCOMMChannel {
		t.Fatalf("expected default rfcomm channel %d, got %d", DefaultRFCOMMChannel, cfg.Connection.RFCOMMChannel)
	}
	if cfg.Connection.SerialBaud != DefaultSerialBaud {
		t.Fatalf("expected default serial baud %d, got %d", DefaultSerialBaud, cfg.Connection.SerialBaud)
	}
	if cfg.Session.ConnectTimeoutMS != DefaultConnectTimeoutMS {
		t.Fatalf("expected default connect timeout, got %d", cfg.Session.ConnectTimeoutMS)
	}
	if cfg.Session.MaxFrameBytes != DefaultMaxFrameBytes {
		t.Fatalf("expected default max frame bytes, got %d", cfg.Session.MaxFrameBytes)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
	if cfg.History.Keep != DefaultHistoryKeep {
		t.Fatalf("expected default history keep %d, got %d", DefaultHistoryKeep, cfg.History.Keep)
	}
}

func TestAppConfigFillMissingDefaultsNormalizesConnector(t *testing.T) {
	cfg := AppConfig{Connection: ConnectionConfig{Connector: " Serial ", Device: " /dev/rfcomm0 "}}
	cfg.FillMissingDefaults()

	if cfg.Connection.Connector != ConnectorSerial {
		t.Fatalf("expected connector to normalize to %q, got %q", ConnectorSerial, cfg.Connection.Connector)
	}
	if cfg.Connection.Device != "/dev/rfcomm0" {
		t.Fatalf("expected device to be trimmed, got %q", cfg.Connection.Device)
	}
}

func TestDefaultSessionTimeouts(t *testing.T) {
	cfg := Default()
	if got := cfg.Session.ConnectTimeout(); got != 15*time.Second {
		t.Fatalf("expected 15s connect timeout, got %s", got)
	}
	if got := cfg.Session.ReadTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s read timeout, got %s", got)
	}
	if !cfg.History.Enabled {
		t.Fatalf("expected history to be enabled by default")
	}
	if cfg.Notifications.OnError {
		t.Fatalf("expected error notifications to be disabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "connection": {
    "connector": "tcp",
    "device": "127.0.0.1:7000"
  },
  "session": {
    "read_timeout_ms": 0
  },
  "history": {
    "enabled": false
  },
  "notifications": {
    "on_error": true
  }
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Connection.Connector != ConnectorTCP || cfg.Connection.Device != "127.0.0.1:7000" {
		t.Fatalf("unexpected connection config: %+v", cfg.Connection)
	}
	if cfg.Session.ReadTimeoutMS != 0 {
		t.Fatalf("expected read timeout 0 to be preserved, got %d", cfg.Session.ReadTimeoutMS)
	}
	if cfg.Session.ConnectTimeoutMS != DefaultConnectTimeoutMS {
		t.Fatalf("expected missing connect timeout to default, got %d", cfg.Session.ConnectTimeoutMS)
	}
	if cfg.History.Enabled {
		t.Fatalf("expected history.enabled=false to be preserved")
	}
	if !cfg.Notifications.OnError {
		t.Fatalf("expected notifications.on_error=true to be preserved")
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Connection.Connector = ConnectorSerial
	cfg.Connection.Device = "COM5"
	cfg.Connection.SerialBaud = 38400

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, got %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("expected %+v, got %+v", cfg, loaded)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Connection.Connector = ConnectorType("usb")

	if err := Save(path, cfg); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no config file to be written, got %v", err)
	}
}

func TestAppConfigValidate(t *testing.T) {
	withConnection := func(conn ConnectionConfig) AppConfig {
		cfg := Default()
		cfg.Connection = conn
		return cfg
	}

	tests := []struct {
		name    string
		cfg     AppConfig
		wantErr bool
	}{
		{
			name: "valid rfcomm",
			cfg:  withConnection(ConnectionConfig{Connector: ConnectorRFCOMM, RFCOMMChannel: 1}),
		},
		{
			name:    "rfcomm channel out of range",
			cfg:     withConnection(ConnectionConfig{Connector: ConnectorRFCOMM, RFCOMMChannel: 31}),
			wantErr: true,
		},
		{
			name: "valid serial",
			cfg:  withConnection(ConnectionConfig{Connector: ConnectorSerial, Device: "/dev/rfcomm0", SerialBaud: 9600}),
		},
		{
			name:    "serial with non-positive baud",
			cfg:     withConnection(ConnectionConfig{Connector: ConnectorSerial, Device: "COM3", SerialBaud: 0}),
			wantErr: true,
		},
		{
			name: "valid tcp",
			cfg:  withConnection(ConnectionConfig{Connector: ConnectorTCP, Device: "127.0.0.1:7000"}),
		},
		{
			name: "valid ble",
			cfg:  withConnection(ConnectionConfig{Connector: ConnectorBLE, Device: "AA:BB:CC:DD:EE:FF"}),
		},
		{
			name:    "unknown connector",
			cfg:     withConnection(ConnectionConfig{Connector: ConnectorType("usb")}),
			wantErr: true,
		},
		{
			name: "negative read timeout",
			cfg: func() AppConfig {
				cfg := Default()
				cfg.Session.ReadTimeoutMS = -1
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "zero frame limit",
			cfg: func() AppConfig {
				cfg := Default()
				cfg.Session.MaxFrameBytes = 0
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		err := tc.cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
	}
}
