// Package config handles loading and managing tempmail configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"

	"github.com/wesm/tempmail/internal/scheduler"
	"github.com/wesm/tempmail/internal/store"
)

// Config represents the tempmail configuration.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Provision ProvisionConfig `toml:"provision"`
	Inbox     InboxConfig     `toml:"inbox"`
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// ProviderConfig holds the Mail.tm client settings.
type ProviderConfig struct {
	BaseURL     string        `toml:"base_url"`
	Timeout     time.Duration `toml:"timeout"`      // per request
	MinInterval time.Duration `toml:"min_interval"` // spacing between requests
	MaxAttempts int           `toml:"max_attempts"` // attempts for rate-limited requests
	BackoffBase time.Duration `toml:"backoff_base"`
	BackoffCap  time.Duration `toml:"backoff_cap"`
	Jitter      time.Duration `toml:"backoff_jitter"`
}

// ProvisionConfig controls account creation.
type ProvisionConfig struct {
	FallbackDomains   []string `toml:"fallback_domains"`
	AttemptsPerDomain int      `toml:"attempts_per_domain"`
}

// InboxConfig controls synchronization and display.
type InboxConfig struct {
	Schedule       string        `toml:"schedule"`        // cron expression or @every descriptor
	ManualInterval time.Duration `toml:"manual_interval"` // minimum gap before a manual refresh
	SanitizeHTML   bool          `toml:"sanitize_html"`
}

// StorageConfig selects where the account record lives.
type StorageConfig struct {
	Backend         string `toml:"backend"`
	Path            string `toml:"path"`
	KeyringPassword string `toml:"keyring_password"` // file keyring fallback only
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Bind           string   `toml:"bind"`
	APIPort        int      `toml:"api_port"`
	APIKey         string   `toml:"api_key"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"` // per client IP
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// DefaultHome returns the default tempmail home directory.
// Respects TEMPMAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("TEMPMAIL_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tempmail"
	}
	return filepath.Join(home, ".tempmail")
}

// Default returns the configuration used when no file is present.
func Default(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Provider: ProviderConfig{
			BaseURL:     "https://api.mail.tm",
			Timeout:     15 * time.Second,
			MinInterval: 250 * time.Millisecond,
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffCap:  10 * time.Second,
			Jitter:      time.Second,
		},
		Provision: ProvisionConfig{
			FallbackDomains:   []string{"punkproof.com", "indigobook.com"},
			AttemptsPerDomain: 5,
		},
		Inbox: InboxConfig{
			Schedule:       "@every 15s",
			ManualInterval: 5 * time.Second,
			SanitizeHTML:   true,
		},
		Storage: StorageConfig{
			Backend: store.BackendFile,
		},
		Server: ServerConfig{
			Bind:           "127.0.0.1",
			APIPort:        8080,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
	}
}

// Load reads the configuration from the specified file.
// If homeDir is empty, DefaultHome is used. If path is empty, uses
// <home>/config.toml. A missing file yields the defaults.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	} else {
		homeDir = expandPath(homeDir)
	}
	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := Default(homeDir)

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg.Storage.Path = expandPath(cfg.Storage.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
//
// Fallback domains are rewritten to their lowercase ASCII form.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case store.BackendMemory, store.BackendFile, store.BackendSQLite, store.BackendKeyring:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url must not be empty")
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("provider.max_attempts must be at least 1, got %d", c.Provider.MaxAttempts)
	}
	for i, d := range c.Provision.FallbackDomains {
		ascii, err := idna.Lookup.ToASCII(strings.TrimSpace(d))
		if err != nil || ascii == "" {
			return fmt.Errorf("provision.fallback_domains: invalid domain %q", d)
		}
		c.Provision.FallbackDomains[i] = ascii
	}
	if c.Provision.AttemptsPerDomain < 1 {
		return fmt.Errorf("provision.attempts_per_domain must be at least 1, got %d", c.Provision.AttemptsPerDomain)
	}
	if err := scheduler.ValidateSchedule(c.Inbox.Schedule); err != nil {
		return fmt.Errorf("inbox.schedule: %w", err)
	}
	if c.Inbox.ManualInterval < 0 {
		return errors.New("inbox.manual_interval must not be negative")
	}
	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port out of range: %d", c.Server.APIPort)
	}
	return nil
}

// StoreOptions returns the account store settings rooted at HomeDir.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:         c.Storage.Backend,
		Dir:             c.HomeDir,
		Path:            c.Storage.Path,
		KeyringPassword: c.Storage.KeyringPassword,
	}
}

// CachePath returns the file holding the last inbox snapshot.
func (c *Config) CachePath() string {
	return filepath.Join(c.HomeDir, "inbox_cache.json")
}

// ServerAddr returns the listen address for the HTTP API.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Bind, strconv.Itoa(c.Server.APIPort))
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
