package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, loaded from zapdesk.toml.
type Config struct {
	HTTP    HTTP    `toml:"http"`
	Data    Data    `toml:"data"`
	Sync    Sync    `toml:"sync"`
	Refresh Refresh `toml:"refresh"`
}

// HTTP configures the API listener.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Data configures the on-disk layout. Everything the daemon owns lives under Dir.
type Data struct {
	Dir string `toml:"dir"`
}

// Sync configures the catch-up sync pass.
type Sync struct {
	// PageLimit caps how many recent messages are fetched per chat.
	// An unbounded fetch is not allowed.
	PageLimit int `toml:"page_limit"`
	// BootDelaySeconds is the settling delay before reconnecting
	// persisted sessions at process start.
	BootDelaySeconds int `toml:"boot_delay_seconds"`
}

// Refresh configures the periodic contact profile-picture refresh.
type Refresh struct {
	IntervalHours int `toml:"interval_hours"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP:    HTTP{Addr: ":5000"},
		Data:    Data{Dir: defaultDataDir()},
		Sync:    Sync{PageLimit: 200, BootDelaySeconds: 2},
		Refresh: Refresh{IntervalHours: 6},
	}
}

// Load reads config from path, filling unset fields with defaults.
// A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.Sync.PageLimit <= 0 {
		cfg.Sync.PageLimit = 200
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// BootDelay returns the boot settling delay as a duration.
func (c *Config) BootDelay() time.Duration {
	return time.Duration(c.Sync.BootDelaySeconds) * time.Second
}

// RefreshInterval returns the profile-picture refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalHours) * time.Hour
}

// DBPath returns the app-owned sqlite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.Data.Dir, "zapdesk.db")
}

// MediaDir returns the directory media attachments are saved to.
func (c *Config) MediaDir() string {
	return filepath.Join(c.Data.Dir, "media")
}

// ProviderDir returns the directory holding provider credential stores.
func (c *Config) ProviderDir() string {
	return filepath.Join(c.Data.Dir, "providers")
}

// ProviderDBPath returns the credential store path for one provider session.
// The session id is the durable-credential key: a reconnect with the same id
// reuses previously established credentials.
func (c *Config) ProviderDBPath(sessionID string) string {
	return filepath.Join(c.ProviderDir(), sessionID+".db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Data.Dir, "logs", "zapdeskd.log")
}

// EnsureDirs creates the data directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Data.Dir,
		c.MediaDir(),
		c.ProviderDir(),
		filepath.Join(c.Data.Dir, "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zapdesk")
}
