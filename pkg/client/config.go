package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/zyeachat/pkg/deeplink"
	"github.com/NicolasHaas/zyeachat/pkg/tokenstore"
)

// Config holds client settings persisted as YAML.
type Config struct {
	APIURL         string `yaml:"api_url"`
	RealtimeURL    string `yaml:"realtime_url"`
	DeepLinkScheme string `yaml:"deep_link_scheme"`

	TokenStore tokenstore.Config `yaml:"token_store"`

	RequestTimeout       time.Duration `yaml:"request_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ChatListPollInterval time.Duration `yaml:"chat_list_poll_interval"`

	UpdateManifestURL   string        `yaml:"update_manifest_url,omitempty"`
	UpdateCheckInterval time.Duration `yaml:"update_check_interval"`

	PushToken string `yaml:"push_token,omitempty"`
	DeviceID  string `yaml:"device_id,omitempty"`
}

// DefaultConfig returns settings for a local dev server.
func DefaultConfig() *Config {
	return &Config{
		APIURL:               "http://localhost:3000",
		RealtimeURL:          "ws://localhost:3000/socket",
		DeepLinkScheme:       deeplink.DefaultScheme,
		TokenStore:           tokenstore.Config{Backend: tokenstore.BackendFile, Path: filepath.Join(DefaultDir(), "auth.yaml")},
		RequestTimeout:       15 * time.Second,
		PollInterval:         DefaultPollInterval,
		ChatListPollInterval: DefaultChatListPollInterval,
		UpdateCheckInterval:  30 * time.Second,
	}
}

// DefaultDir is the per-user config directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "zyeachat")
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// LoadConfig reads path over the defaults. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no config file, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, assigning a device id on first save.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks URLs and intervals.
func (c *Config) Validate() error {
	if _, err := parseURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if _, err := parseURL(c.RealtimeURL, "ws", "wss", "http", "https"); err != nil {
		return fmt.Errorf("realtime_url: %w", err)
	}
	if c.UpdateManifestURL != "" {
		if _, err := parseURL(c.UpdateManifestURL, "http", "https"); err != nil {
			return fmt.Errorf("update_manifest_url: %w", err)
		}
	}
	if c.DeepLinkScheme == "" {
		return errors.New("deep_link_scheme is empty")
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":           c.PollInterval,
		"chat_list_poll_interval": c.ChatListPollInterval,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1s, got %s", name, d)
		}
	}
	if c.RequestTimeout < 0 || c.UpdateCheckInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func parseURL(raw string, schemes ...string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return nil, fmt.Errorf("%q has no host", raw)
			}
			return u, nil
		}
	}
	return nil, fmt.Errorf("%q: scheme must be one of %v", raw, schemes)
}
