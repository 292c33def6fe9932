package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultFocusedInterval    = 5 * time.Second
	DefaultBackgroundInterval = 30 * time.Second
	DefaultLongPollTimeout    = time.Second
	MaxLongPollTimeout        = 30 * time.Second
	DefaultHistoryLimit       = 200
	DefaultPollLimit          = 100
	DefaultCacheSize          = 1000
	DefaultJitter             = 0.15
	MaxJitter                 = 0.5
	DefaultIconSize           = 24
	DefaultSupervisorInterval = time.Second
)

// ServerConfig points at the Talk server. The password is never persisted.
type ServerConfig struct {
	Endpoint string `json:"endpoint"`
	User     string `json:"user"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// SyncConfig tunes per-room polling.
type SyncConfig struct {
	FocusedInterval         Duration `json:"focused_interval"`
	BackgroundInterval      Duration `json:"background_interval"`
	LongPollTimeout         Duration `json:"long_poll_timeout"`
	HistoryLimit            int      `json:"history_limit"`
	PollLimit               int      `json:"poll_limit"`
	Jitter                  float64  `json:"jitter"`
	SupervisorCheckInterval Duration `json:"supervisor_check_interval"`
	// CacheSize caps cached messages per room; 0 disables the local cache.
	CacheSize               int      `json:"cache_size"`
}

// UIConfig stores persistent UI preferences.
type UIConfig struct {
	LastSelectedRoom string             `json:"last_selected_room"`
	IconSize         int                `json:"icon_size"`
	Notifications    NotificationConfig `json:"notifications"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled           bool `json:"enabled"`
	NotifyWhenFocused bool `json:"notify_when_focused"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Sync    SyncConfig    `json:"sync"`
	UI      UIConfig      `json:"ui"`
}

func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Sync: SyncConfig{
			FocusedInterval:         Duration(DefaultFocusedInterval),
			BackgroundInterval:      Duration(DefaultBackgroundInterval),
			LongPollTimeout:         Duration(DefaultLongPollTimeout),
			HistoryLimit:            DefaultHistoryLimit,
			PollLimit:               DefaultPollLimit,
			Jitter:                  DefaultJitter,
			SupervisorCheckInterval: Duration(DefaultSupervisorInterval),
			CacheSize:               DefaultCacheSize,
		},
		UI: UIConfig{
			IconSize: DefaultIconSize,
			Notifications: NotificationConfig{
				Enabled:           true,
				NotifyWhenFocused: false,
			},
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
	c.Server.Endpoint = strings.TrimRight(strings.TrimSpace(c.Server.Endpoint), "/")
	c.Server.User = strings.TrimSpace(c.Server.User)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Sync.FocusedInterval <= 0 {
		c.Sync.FocusedInterval = Duration(DefaultFocusedInterval)
	}
	if c.Sync.BackgroundInterval <= 0 {
		c.Sync.BackgroundInterval = Duration(DefaultBackgroundInterval)
	}
	if c.Sync.LongPollTimeout <= 0 {
		c.Sync.LongPollTimeout = Duration(DefaultLongPollTimeout)
	}
	if c.Sync.LongPollTimeout > Duration(MaxLongPollTimeout) {
		c.Sync.LongPollTimeout = Duration(MaxLongPollTimeout)
	}
	if c.Sync.HistoryLimit <= 0 {
		c.Sync.HistoryLimit = DefaultHistoryLimit
	}
	if c.Sync.PollLimit <= 0 {
		c.Sync.PollLimit = DefaultPollLimit
	}
	if c.Sync.Jitter <= 0 {
		c.Sync.Jitter = DefaultJitter
	}
	if c.Sync.SupervisorCheckInterval <= 0 {
		c.Sync.SupervisorCheckInterval = Duration(DefaultSupervisorInterval)
	}
	if c.Sync.CacheSize < 0 {
		c.Sync.CacheSize = 0
	}
	if c.UI.IconSize <= 0 {
		c.UI.IconSize = DefaultIconSize
	}
}

func (c AppConfig) Validate() error {
	if c.Server.Endpoint != "" {
		u, err := url.Parse(c.Server.Endpoint)
		if err != nil {
			return fmt.Errorf("server endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server endpoint must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("server endpoint host is required")
		}
		if strings.TrimSpace(c.Server.User) == "" {
			return errors.New("server user is required")
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	if c.Sync.FocusedInterval <= 0 || c.Sync.BackgroundInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}
	if c.Sync.FocusedInterval > c.Sync.BackgroundInterval {
		return errors.New("focused interval must not exceed background interval")
	}
	if c.Sync.LongPollTimeout <= 0 || c.Sync.LongPollTimeout > Duration(MaxLongPollTimeout) {
		return fmt.Errorf("long poll timeout must be within (0, %s]", MaxLongPollTimeout)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > MaxJitter {
		return fmt.Errorf("jitter must be within [0, %.2f]", MaxJitter)
	}
	if c.Sync.HistoryLimit <= 0 || c.Sync.PollLimit <= 0 {
		return errors.New("history and poll limits must be positive")
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
