package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string such as "15s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.dmsync/config.toml.
type Config struct {
	DefaultProfile string       `toml:"default_profile"`
	Client         ClientConfig `toml:"client"`
	Server         ServerConfig `toml:"server"`
	Log            LogConfig    `toml:"log"`
}

// ClientConfig configures the terminal client and the CLI.
type ClientConfig struct {
	ServerURL       string   `toml:"server_url"`
	UserID          string   `toml:"user_id"`
	UserName        string   `toml:"user_name"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ReconnectPeriod Duration `toml:"reconnect_period"`
}

// ServerConfig configures the development chat server.
type ServerConfig struct {
	Listen  string `toml:"listen"`
	DataDir string `toml:"data_dir"`
	Users   []User `toml:"users"`
}

// User is a user seeded into the development server.
type User struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			ServerURL:       "http://127.0.0.1:7420",
			RequestTimeout:  Duration{15 * time.Second},
			ReconnectPeriod: Duration{2 * time.Second},
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7420",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path over the defaults. A missing file
// yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a client needs.
func (c *Config) Validate() error {
	if c.Client.ServerURL == "" {
		return errors.New("client.server_url is required")
	}
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.server_url %q must be an http(s) URL", c.Client.ServerURL)
	}
	if c.Client.RequestTimeout.Duration < 0 || c.Client.ReconnectPeriod.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	seen := make(map[string]bool, len(c.Server.Users))
	for _, u := range c.Server.Users {
		if u.ID == "" {
			return errors.New("server.users: id is required")
		}
		if seen[u.ID] {
			return fmt.Errorf("server.users: duplicate id %q", u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
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
