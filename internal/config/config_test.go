package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("expected default channels 2, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.FrameSize != 1024 {
		t.Errorf("expected default frame size 1024, got %d", cfg.Audio.FrameSize)
	}
	if cfg.Filter.Mode != FilterIdentity {
		t.Errorf("expected default filter mode %q, got %q", FilterIdentity, cfg.Filter.Mode)
	}
	if cfg.Filter.SSLMode != SSLDisabled {
		t.Errorf("expected default ssl mode %q, got %q", SSLDisabled, cfg.Filter.SSLMode)
	}
}

func TestLoadOverlaysExistingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "voicetray", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	saved := map[string]any{
		"audio":     map[string]any{"input_device": "USB Mic", "sample_rate": 48000},
		"log_level": "debug",
	}
	data, _ := json.Marshal(saved)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Audio.InputDevice != "USB Mic" {
		t.Errorf("expected input device from file, got %q", cfg.Audio.InputDevice)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected sample rate from file, got %d", cfg.Audio.SampleRate)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level from file, got %q", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Filter: FilterConfig{
				Mode:    FilterIdentity,
				Target:  "127.0.0.1:8001",
				SSLMode: SSLDisabled,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown filter mode",
			mutate:  func(c *Config) { c.Filter.Mode = "loud" },
			wantErr: true,
		},
		{
			name:    "unknown ssl mode",
			mutate:  func(c *Config) { c.Filter.SSLMode = "maybe" },
			wantErr: true,
		},
		{
			name:    "tls without root cert",
			mutate:  func(c *Config) { c.Filter.SSLMode = SSLTLS },
			wantErr: true,
		},
		{
			name: "tls with root cert",
			mutate: func(c *Config) {
				c.Filter.SSLMode = SSLTLS
				c.Filter.SSLRootCA = "ca.pem"
			},
		},
		{
			name: "mtls missing key",
			mutate: func(c *Config) {
				c.Filter.SSLMode = SSLMTLS
				c.Filter.SSLCert = "cert.pem"
				c.Filter.SSLRootCA = "ca.pem"
			},
			wantErr: true,
		},
		{
			name: "mtls complete",
			mutate: func(c *Config) {
				c.Filter.SSLMode = SSLMTLS
				c.Filter.SSLKey = "key.pem"
				c.Filter.SSLCert = "cert.pem"
				c.Filter.SSLRootCA = "ca.pem"
			},
		},
		{
			name:    "api key without function id",
			mutate:  func(c *Config) { c.Filter.APIKey = "nvapi-test" },
			wantErr: true,
		},
		{
			name: "api key with function id",
			mutate: func(c *Config) {
				c.Filter.APIKey = "nvapi-test"
				c.Filter.FunctionID = "fn-123"
			},
		},
		{
			name: "remote without target",
			mutate: func(c *Config) {
				c.Filter.Mode = FilterRemote
				c.Filter.Target = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
