package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
satel:
  host: 192.168.1.100
zones:
  - number: 3
    name: Hall PIR
    device_class: motion
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Satel.Host != "192.168.1.100" {
		t.Errorf("host = %q", cfg.Satel.Host)
	}
	if cfg.Satel.Port != 7094 {
		t.Errorf("port = %d, want default 7094", cfg.Satel.Port)
	}
	if cfg.Satel.PollInterval != 30 || cfg.Satel.Heartbeat != 30 {
		t.Errorf("intervals = %d/%d, want 30/30", cfg.Satel.PollInterval, cfg.Satel.Heartbeat)
	}
	if cfg.Satel.ReconnectDelay != 2 || cfg.Satel.ReconnectMax != 120 {
		t.Errorf("reconnect = %d/%d, want 2/120", cfg.Satel.ReconnectDelay, cfg.Satel.ReconnectMax)
	}
	if cfg.MQTT.Host != "localhost" || cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt defaults = %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
	if cfg.MQTT.Prefix != "satel2mqtt" {
		t.Errorf("mqtt prefix = %q", cfg.MQTT.Prefix)
	}
	if cfg.Log != "info" {
		t.Errorf("log level = %q, want info", cfg.Log)
	}
	if len(cfg.Zones) != 1 || cfg.Zones[0].DeviceClass != "motion" {
		t.Errorf("zones = %+v", cfg.Zones)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing host",
			content: "satel: {}\n",
			wantErr: "satel.host is required",
		},
		{
			name: "integration key not hex",
			content: `
satel:
  host: 192.168.1.100
  integration_key: not-hex-at-all-xx
`,
			wantErr: "integration_key",
		},
		{
			name: "integration key wrong length",
			content: `
satel:
  host: 192.168.1.100
  integration_key: "00112233"
`,
			wantErr: "32 hex characters",
		},
		{
			name: "code too short",
			content: `
satel:
  host: 192.168.1.100
  code: "12"
`,
			wantErr: "4-8 digits",
		},
		{
			name: "code not numeric",
			content: `
satel:
  host: 192.168.1.100
  code: "12ab"
`,
			wantErr: "only digits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigValidKey(t *testing.T) {
	path := writeConfig(t, `
satel:
  host: 192.168.1.100
  integration_key: "00112233445566778899aabbccddeeff"
  code: "123456"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Satel.IntegrationKey != "00112233445566778899aabbccddeeff" {
		t.Errorf("key = %q", cfg.Satel.IntegrationKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
