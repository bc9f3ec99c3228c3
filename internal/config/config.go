package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultRadioPort           = 4403
	DefaultStaleTimeoutSeconds = 90
	DefaultHTTPListen          = "127.0.0.1:8077"
	DefaultVirtualNodeListen   = ":4403"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// RadioConfig points at the radio's TCP endpoint. An empty host enables
// mDNS discovery at startup.
type RadioConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	StaleTimeoutSeconds int    `json:"stale_timeout_seconds"`
}

// DatabaseConfig locates the SQLite store. An empty path resolves under
// the user data directory.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// HTTPConfig controls the REST surface.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// VirtualNodeConfig controls the virtual-node TCP server that lets
// standard clients share the radio.
type VirtualNodeConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Desktop bool `json:"desktop"`
}

// AppConfig is the root persisted daemon configuration.
type AppConfig struct {
	Radio         RadioConfig        `json:"radio"`
	Database      DatabaseConfig     `json:"database"`
	HTTP          HTTPConfig         `json:"http"`
	VirtualNode   VirtualNodeConfig  `json:"virtual_node"`
	PacketLog     bool               `json:"packet_log"`
	Notifications NotificationConfig `json:"notifications"`
	Logging       LoggingConfig      `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Radio: RadioConfig{
			Host:                "",
			Port:                DefaultRadioPort,
			StaleTimeoutSeconds: DefaultStaleTimeoutSeconds,
		},
		Database: DatabaseConfig{Path: ""},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  DefaultHTTPListen,
		},
		VirtualNode: VirtualNodeConfig{
			Enabled: false,
			Listen:  DefaultVirtualNodeListen,
		},
		PacketLog: false,
		Notifications: NotificationConfig{
			Desktop: false,
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
	// #nosec G304 -- path is resolved by the runtime and points to user config dir.
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
	if c.Radio.Port <= 0 || c.Radio.Port > 65535 {
		c.Radio.Port = DefaultRadioPort
	}
	if c.Radio.StaleTimeoutSeconds <= 0 {
		c.Radio.StaleTimeoutSeconds = DefaultStaleTimeoutSeconds
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultHTTPListen
	}
	if c.VirtualNode.Listen == "" {
		c.VirtualNode.Listen = DefaultVirtualNodeListen
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if c.Radio.Port <= 0 || c.Radio.Port > 65535 {
		return fmt.Errorf("radio port %d out of range", c.Radio.Port)
	}
	if c.Radio.StaleTimeoutSeconds <= 0 {
		return errors.New("stale timeout must be positive")
	}
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http listen address is required when enabled")
	}
	if c.VirtualNode.Enabled && c.VirtualNode.Listen == "" {
		return errors.New("virtual node listen address is required when enabled")
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
