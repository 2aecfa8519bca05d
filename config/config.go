package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/pkg/binding"
	"github.com/c360/smartcache/pkg/cache"
	"github.com/c360/smartcache/pkg/tlsutil"
)

// Config represents the complete application configuration
type Config struct {
	Version string             `json:"version"` // Semantic version, compared before applying remote updates
	HTTP    HTTPConfig         `json:"http"`
	Cache   cache.Config       `json:"cache"`
	Binding binding.Config     `json:"binding"`
	Retry   errors.RetryConfig `json:"retry"` // MaxRetries 0 disables fetch retries
	Workers WorkerConfig       `json:"workers"`
	Focus   FocusConfig        `json:"focus"`
	NATS    NATSConfig         `json:"nats"`
	Catalog CatalogConfig      `json:"catalog"`
}

// HTTPConfig configures the admin server.
type HTTPConfig struct {
	Addr              string               `json:"addr"`
	ReadHeaderTimeout time.Duration        `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   time.Duration        `json:"shutdown_timeout,omitempty"`
	TLS               tlsutil.ServerConfig `json:"tls,omitzero"`
}

// WorkerConfig sizes the pool that runs binding fetches.
type WorkerConfig struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

// FocusConfig configures the websocket focus endpoint and signal throttling.
type FocusConfig struct {
	Enabled        bool          `json:"enabled"`
	Path           string        `json:"path,omitempty"`
	AllowedOrigins []string      `json:"allowed_origins,omitempty"`
	ReadTimeout    time.Duration `json:"read_timeout,omitempty"`
	Throttle       time.Duration `json:"throttle,omitempty"` // Minimum gap between focus revalidations
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	Subject       string        `json:"subject,omitempty"`        // Revalidation subject
	ConfigSubject string        `json:"config_subject,omitempty"` // Runtime config updates; empty disables
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitzero"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// CatalogConfig points the demo product fetcher at its upstream.
type CatalogConfig struct {
	BackendURL     string               `json:"backend_url"`
	Shops          []string             `json:"shops,omitempty"` // Shops bound at startup
	RequestTimeout time.Duration        `json:"request_timeout,omitempty"`
	TLS            tlsutil.ClientConfig `json:"tls,omitzero"`
}

// Default returns the built-in configuration every file is merged onto.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Cache:   cache.DefaultConfig(),
		Binding: binding.DefaultConfig(),
		Workers: WorkerConfig{Count: 4, QueueSize: 64},
		Focus: FocusConfig{
			Enabled:     true,
			Path:        "/ws/focus",
			ReadTimeout: 60 * time.Second,
			Throttle:    time.Second,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Subject:       "smartcache.revalidate",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Catalog: CatalogConfig{
			BackendURL:     "http://localhost:9000",
			RequestTimeout: 5 * time.Second,
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	// RetryableErrors is not serialised.
	clone.Retry.RetryableErrors = c.Retry.RetryableErrors
	return &clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.HTTP.ReadHeaderTimeout < 0 || c.HTTP.ShutdownTimeout < 0 {
		return invalid("http timeouts cannot be negative")
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "http.tls")
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if c.Binding.FetchTimeout < 0 {
		return invalid("binding.fetch_timeout cannot be negative")
	}

	if c.Retry.MaxRetries < 0 {
		return invalid("retry.max_retries cannot be negative")
	}
	if c.Retry.MaxRetries > 0 {
		if err := c.Retry.ToRetryConfig().Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "retry")
		}
	}

	if c.Workers.Count <= 0 {
		return invalid(fmt.Sprintf("workers.count must be positive, got %d", c.Workers.Count))
	}
	if c.Workers.QueueSize < 0 {
		return invalid(fmt.Sprintf("workers.queue_size cannot be negative, got %d", c.Workers.QueueSize))
	}

	if c.Focus.Enabled && !strings.HasPrefix(c.Focus.Path, "/") {
		return invalid(fmt.Sprintf("focus.path must start with '/', got %q", c.Focus.Path))
	}
	if c.Focus.Throttle < 0 || c.Focus.ReadTimeout < 0 {
		return invalid("focus durations cannot be negative")
	}

	if c.NATS.Enabled {
		if err := c.validateNATS(); err != nil {
			return err
		}
	}

	if c.Catalog.BackendURL != "" {
		u, err := url.Parse(c.Catalog.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid(fmt.Sprintf("catalog.backend_url is not an absolute URL: %q", c.Catalog.BackendURL))
		}
	}
	if err := c.Catalog.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "catalog.tls")
	}
	return nil
}

func (c *Config) validateNATS() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
	}

	if len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required when nats is enabled")
	}
	for _, subject := range []string{c.NATS.Subject, c.NATS.ConfigSubject} {
		if subject == "" {
			continue
		}
		for _, part := range strings.Split(subject, ".") {
			if !isValidNATSSubjectPart(part) {
				return invalid(fmt.Sprintf("nats subject %q is not valid (alphanumeric tokens separated by dots)", subject))
			}
		}
	}
	if c.NATS.Subject == "" {
		return invalid("nats.subject is required when nats is enabled")
	}

	if c.NATS.TLS.Enabled {
		for name, path := range map[string]string{
			"cert_file": c.NATS.TLS.CertFile,
			"key_file":  c.NATS.TLS.KeyFile,
		} {
			if path == "" {
				return invalid(fmt.Sprintf("nats.tls.%s is required when TLS is enabled", name))
			}
			if _, err := os.Stat(path); err != nil {
				return errors.WrapInvalid(err, "Config", "Validate", "nats.tls."+name)
			}
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use as one NATS
// subject token. Valid characters are alphanumeric, dashes and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// UnmarshalJSON accepts duration strings ("30s") or nanoseconds for the
// duration fields outside the cache and binding sections.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := parseDurations(raw); err != nil {
		return err
	}
	normalised, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalised, (*Alias)(c))
}

// durationPaths lists duration fields stored as plain time.Duration. Cache
// and binding sections parse their own.
var durationPaths = [][]string{
	{"http", "read_header_timeout"},
	{"http", "shutdown_timeout"},
	{"retry", "initial_delay"},
	{"retry", "max_delay"},
	{"focus", "read_timeout"},
	{"focus", "throttle"},
	{"nats", "reconnect_wait"},
	{"catalog", "request_timeout"},
}

// parseDurations converts duration strings to nanoseconds in place.
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		section, ok := data[path[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[path[1]].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "UnmarshalJSON", strings.Join(path, "."))
		}
		section[path[1]] = d.Nanoseconds()
	}
	return nil
}

// CompareVersions compares two semver version strings
// Returns:
//
//	-1 if v1 < v2
//	 0 if v1 == v2
//	 1 if v1 > v2
//	error if either version is invalid
func CompareVersions(v1, v2 string) (int, error) {
	a, err := parseSemVer(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v1, err)
	}
	b, err := parseSemVer(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version '%s': %w", v2, err)
	}

	for i := range a {
		if a[i] != b[i] {
			if a[i] > b[i] {
				return 1, nil
			}
			return -1, nil
		}
	}
	return 0, nil
}

// parseSemVer parses "major.minor.patch" with an optional leading v.
func parseSemVer(version string) ([3]int, error) {
	var out [3]int
	if version == "" {
		return out, errors.New("version cannot be empty")
	}

	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid version part '%s': %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}
