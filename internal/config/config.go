package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// SSL modes accepted by FilterConfig, matching the transform service CLI.
const (
	SSLDisabled = "DISABLED"
	SSLTLS      = "TLS"
	SSLMTLS     = "MTLS"
)

// Filter modes.
const (
	FilterIdentity = "identity"
	FilterRemote   = "remote"
)

type Config struct {
	Audio    AudioConfig  `json:"audio"`
	Filter   FilterConfig `json:"filter"`
	Media    MediaConfig  `json:"media"`
	Hotkey   bool         `json:"hotkey"` // global Ctrl+Alt+Space toggle
	LogLevel string       `json:"log_level"`
}

type AudioConfig struct {
	InputDevice   string `json:"input_device"`  // empty = system default
	OutputDevice  string `json:"output_device"` // empty = system default
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	FrameSize     int    `json:"frame_size"`
}

type FilterConfig struct {
	Mode       string `json:"mode"` // "identity" or "remote"
	Target     string `json:"target"`
	SSLMode    string `json:"ssl_mode"` // "DISABLED", "TLS" or "MTLS"
	SSLKey     string `json:"ssl_key"`
	SSLCert    string `json:"ssl_cert"`
	SSLRootCA  string `json:"ssl_root_cert"`
	APIKey     string `json:"api_key"`     // bearer token for hosted endpoints
	FunctionID string `json:"function_id"` // hosted function routing header
}

type MediaConfig struct {
	IntroSound string `json:"intro_sound"` // MP3 played once at startup
	IntroVideo string `json:"intro_video"` // checked for fast-start, not played
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	path := configPath()

	// Default config
	cfg := &Config{
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      2,
			BitsPerSample: 16,
			FrameSize:     1024,
		},
		Filter: FilterConfig{
			Mode:    FilterIdentity,
			Target:  "127.0.0.1:8001",
			SSLMode: SSLDisabled,
		},
		Hotkey:   true,
		LogLevel: "info",
	}

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	switch c.Filter.Mode {
	case FilterIdentity, FilterRemote:
	default:
		return fmt.Errorf("filter mode must be %q or %q, got %q", FilterIdentity, FilterRemote, c.Filter.Mode)
	}

	switch c.Filter.SSLMode {
	case SSLDisabled:
	case SSLTLS:
		if c.Filter.SSLRootCA == "" {
			return fmt.Errorf("ssl_mode TLS requires ssl_root_cert")
		}
	case SSLMTLS:
		if c.Filter.SSLKey == "" || c.Filter.SSLCert == "" || c.Filter.SSLRootCA == "" {
			return fmt.Errorf("ssl_mode MTLS requires ssl_key, ssl_cert and ssl_root_cert")
		}
	default:
		return fmt.Errorf("ssl_mode must be DISABLED, TLS or MTLS, got %q", c.Filter.SSLMode)
	}

	if c.Filter.APIKey != "" && c.Filter.FunctionID == "" {
		return fmt.Errorf("api_key is set but function_id is empty")
	}
	if c.Filter.Mode == FilterRemote && c.Filter.Target == "" {
		return fmt.Errorf("filter mode %q requires a target", FilterRemote)
	}

	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "voicetray", "config.json")
}
