// Package config loads and stores CLI configuration in the XDG config dir.
// Only non-secret settings are kept here; session ids go to the OS keychain
// and passwords are never persisted.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"remotesql/cli/internal/transport"
	"remotesql/cli/internal/xdg"
)

// Environment variables overriding the file.
const (
	EnvServer        = "REMOTESQL_SERVER"
	EnvUser          = "REMOTESQL_USER"
	EnvDatabase      = "REMOTESQL_DATABASE"
	EnvPassword      = "REMOTESQL_PASSWORD"
	EnvProxyPassword = "REMOTESQL_PROXY_PASSWORD"
)

// Defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second
	DefaultLogLevel       = "info"
	DefaultMaxBlobBytes   = 16 << 20
)

// Config holds non-sensitive CLI settings.
type Config struct {
	Server         string            `json:"server"`
	Username       string            `json:"username"`
	Database       string            `json:"database"`
	ConnectTimeout Duration          `json:"connect_timeout"`
	ReadTimeout    Duration          `json:"read_timeout"`
	Proxy          ProxyConfig       `json:"proxy"`
	Headers        map[string]string `json:"headers,omitempty"`
	GzipResult     *bool             `json:"gzip_result,omitempty"`
	LogLevel       string            `json:"log_level"`
	MaxBlobBytes   int64             `json:"max_blob_bytes"`

	// proxyPassword comes from the environment only.
	proxyPassword string
}

// ProxyConfig holds proxy settings. The password is read from REMOTESQL_PROXY_PASSWORD.
type ProxyConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
}

// Duration is a time.Duration stored as a Go duration string such as "10s".
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	gzip := true
	return Config{
		ConnectTimeout: Duration(DefaultConnectTimeout),
		ReadTimeout:    Duration(DefaultReadTimeout),
		GzipResult:     &gzip,
		LogLevel:       DefaultLogLevel,
		MaxBlobBytes:   DefaultMaxBlobBytes,
	}
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from the XDG config dir and applies environment overrides.
// A missing file returns defaults.
func Load() (Config, error) {
	p, err := Path()
	if err != nil {
		return Config{}, err
	}
	c, err := LoadFile(p)
	if err != nil {
		return c, err
	}
	c.ApplyEnv(os.Getenv)
	return c, nil
}

// LoadFile reads configuration from p. Fields absent from the file keep their defaults.
func LoadFile(p string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: %w", p, err)
	}
	return c, nil
}

// Save writes configuration to the XDG config dir with 0600 permissions.
func Save(c Config) error {
	p, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(p, c)
}

// SaveFile writes configuration to p with 0600 permissions.
func SaveFile(p string, c Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvServer); v != "" {
		c.Server = v
	}
	if v := getenv(EnvUser); v != "" {
		c.Username = v
	}
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	c.proxyPassword = getenv(EnvProxyPassword)
}

// Gzip reports whether result streams should be requested gzip-compressed.
func (c Config) Gzip() bool {
	return c.GzipResult == nil || *c.GzipResult
}

// Validate checks that the settings needed to reach a server are present.
func (c Config) Validate() error {
	switch {
	case c.Server == "":
		return fmt.Errorf("server URL is not set (use --server or %s)", EnvServer)
	case c.Username == "":
		return fmt.Errorf("username is not set (use --user or %s)", EnvUser)
	case c.Database == "":
		return fmt.Errorf("database is not set (use --database or %s)", EnvDatabase)
	}
	return nil
}

// TransportOptions converts the settings into transport options.
func (c Config) TransportOptions(userAgent string) transport.Options {
	return transport.Options{
		ConnectTimeout: time.Duration(c.ConnectTimeout),
		ReadTimeout:    time.Duration(c.ReadTimeout),
		Proxy: transport.Proxy{
			Host:     c.Proxy.Host,
			Port:     c.Proxy.Port,
			Username: c.Proxy.Username,
			Password: c.proxyPassword,
		},
		Headers:   c.Headers,
		UserAgent: userAgent,
	}
}
