// Package config loads the client settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rescp17/dcdesk/internal/request"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up when --config is not given.
const FileName = "dcdesk.yaml"

// Config is the full client configuration.
type Config struct {
	Nick        string `yaml:"nick"`
	Description string `yaml:"description"`
	Email       string `yaml:"email"`

	Hubs []HubEntry `yaml:"hubs"`

	TickInterval   time.Duration `yaml:"tick_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	SingleInstance bool          `yaml:"single_instance"`
	LockFile       string        `yaml:"lock_file"`

	ActiveMode  ActiveModeConfig  `yaml:"active_mode"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	SearchFlood SearchFloodConfig `yaml:"search_flood"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	DownloadDir string `yaml:"download_dir"`
}

// HubEntry is a favorite hub.
type HubEntry struct {
	Address     string `yaml:"address"`
	Encoding    string `yaml:"encoding"`
	Autoconnect bool   `yaml:"autoconnect"`
	Nick        string `yaml:"nick"` // overrides the global nick on this hub
}

// ActiveModeConfig controls the incoming connection and search sockets.
type ActiveModeConfig struct {
	Enabled bool `yaml:"enabled"`
	TCPPort int  `yaml:"tcp_port"`
	UDPPort int  `yaml:"udp_port"`
}

// ReconnectConfig throttles manual reconnects per hub.
type ReconnectConfig struct {
	Interval time.Duration `yaml:"interval"`
	Burst    int           `yaml:"burst"`
}

// SearchFloodConfig is the per-source search rate above which a hub
// session reports a flood.
type SearchFloodConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DiscoveryConfig controls LAN hub browsing.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Nick:           os.Getenv("USER"),
		Description:    "dcdesk",
		TickInterval:   time.Second,
		ProbeTimeout:   time.Second,
		SingleInstance: true,
		Reconnect: ReconnectConfig{
			Interval: 10 * time.Second,
			Burst:    3,
		},
		SearchFlood: SearchFloodConfig{
			Rate:  5,
			Burst: 10,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Service: "_dchub._tcp",
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("No config file, using defaults", "path", path)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values a session or listener would reject later.
func (c *Config) Validate() error {
	if err := validateNick(c.Nick); err != nil {
		return err
	}
	if c.TickInterval < 100*time.Millisecond {
		return errors.New("tick_interval must be at least 100ms")
	}
	if c.ProbeTimeout <= 0 {
		return errors.New("probe_timeout must be positive")
	}
	for i, h := range c.Hubs {
		req, ok := request.Parse(h.Address)
		if !ok || req.Kind != request.KindHub {
			return fmt.Errorf("hubs[%d]: %q is not a hub address", i, h.Address)
		}
		if h.Encoding != "" {
			if _, err := htmlindex.Get(h.Encoding); err != nil {
				return fmt.Errorf("hubs[%d]: unknown encoding %q", i, h.Encoding)
			}
		}
		if err := validateNick(h.Nick); err != nil {
			return fmt.Errorf("hubs[%d]: %w", i, err)
		}
	}
	if !validPort(c.ActiveMode.TCPPort) || !validPort(c.ActiveMode.UDPPort) {
		return errors.New("active_mode ports must be between 0 and 65535")
	}
	if c.Reconnect.Interval <= 0 || c.Reconnect.Burst <= 0 {
		return errors.New("reconnect interval and burst must be positive")
	}
	if c.SearchFlood.Rate <= 0 || c.SearchFlood.Burst <= 0 {
		return errors.New("search_flood rate and burst must be positive")
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		return errors.New("discovery.service cannot be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.DownloadDir != "" {
		exists, isDir, err := checkDirectory(c.DownloadDir)
		if err != nil {
			return fmt.Errorf("download_dir: %w", err)
		}
		if exists && !isDir {
			return fmt.Errorf("download_dir %s is not a directory", c.DownloadDir)
		}
	}
	return nil
}

// SlogLevel maps log_level to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", c.LogLevel)
}

// NickFor returns the nick to use on address.
func (c *Config) NickFor(address string) string {
	for _, h := range c.Hubs {
		if h.Address == address && h.Nick != "" {
			return h.Nick
		}
	}
	return c.Nick
}

// validateNick rejects characters the hub protocol uses as delimiters.
func validateNick(nick string) error {
	if strings.ContainsAny(nick, " $|<>") {
		return fmt.Errorf("nick %q contains reserved characters", nick)
	}
	return nil
}

func validPort(p int) bool { return p >= 0 && p <= 65535 }

func checkDirectory(path string) (exists bool, isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, info.IsDir(), nil
}
