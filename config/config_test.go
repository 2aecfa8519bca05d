package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/pkg/cache"
	"github.com/c360/smartcache/pkg/tlsutil"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 100, cfg.Cache.MaxSize)
	assert.True(t, cfg.Binding.Enabled)
	assert.True(t, cfg.Binding.RefetchOnWindowFocus)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoaderMergesLayers(t *testing.T) {
	base := writeConfig(t, "base.json", `{
		"cache": {"max_size": 500, "default_ttl": "10m"},
		"http": {"shutdown_timeout": "3s"},
		"catalog": {"shops": ["1", "2"]}
	}`)
	override := writeConfig(t, "prod.json", `{
		"cache": {"enable_lru": false, "overflow_policy": "replace_oldest"},
		"binding": {"fetch_timeout": "2s"},
		"retry": {"max_retries": 2, "initial_delay": "50ms", "max_delay": "1s", "backoff_factor": 2}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Cache.EnableLRU)
	assert.Equal(t, cache.OverflowReplaceOldest, cfg.Cache.OverflowPolicy)
	assert.True(t, cfg.Cache.EnableStats, "untouched field keeps default")
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.Binding.FetchTimeout)
	assert.True(t, cfg.Binding.Enabled)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, []string{"1", "2"}, cfg.Catalog.Shops)
}

func TestLoaderSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown section", `{"graph": {}}`, "graph"},
		{"unknown field", `{"cache": {"size": 3}}`, "size"},
		{"wrong type", `{"cache": {"max_size": "big"}}`, "max_size"},
		{"bad duration", `{"cache": {"default_ttl": "soon"}}`, "default_ttl"},
		{"bad policy", `{"cache": {"overflow_policy": "drop"}}`, "overflow_policy"},
		{"bad nats url", `{"nats": {"urls": ["http://x"]}}`, "urls"},
		{"bad tls version", `{"http": {"tls": {"min_version": "1.1"}}}`, "min_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeConfig(t, "c.json", tt.body))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoaderValidation(t *testing.T) {
	path := writeConfig(t, "c.json", `{"nats": {"enabled": true, "subject": "bad subject"}}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.NATS.Enabled)
}

func TestLoaderFileErrors(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(writeConfig(t, "c.yaml", "cache: {}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON")

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	_, err = NewLoader().LoadFile(writeConfig(t, "deep.json", deep))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too deep")
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("SMARTCACHE_HTTP_ADDR", ":9999")
	t.Setenv("SMARTCACHE_CACHE_MAX_SIZE", "42")
	t.Setenv("SMARTCACHE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("SMARTCACHE_BINDING_REFETCH_ON_WINDOW_FOCUS", "false")
	t.Setenv("SMARTCACHE_NATS_ENABLED", "true")
	t.Setenv("SMARTCACHE_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("SMARTCACHE_CATALOG_SHOPS", "7,8")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 42, cfg.Cache.MaxSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.False(t, cfg.Binding.RefetchOnWindowFocus)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, []string{"7", "8"}, cfg.Catalog.Shops)
}

func TestLoaderEnvOverrideErrors(t *testing.T) {
	t.Setenv("SMARTCACHE_WORKERS_COUNT", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "SMARTCACHE_WORKERS_COUNT")
}

func TestLoaderCustomEnvPrefix(t *testing.T) {
	t.Setenv("EDGE_HTTP_ADDR", ":7000")

	loader := NewLoader()
	loader.SetEnvPrefix("EDGE")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.HTTP.Addr = "" }},
		{"cache size", func(c *Config) { c.Cache.MaxSize = 0 }},
		{"negative fetch timeout", func(c *Config) { c.Binding.FetchTimeout = -time.Second }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"retry max below initial", func(c *Config) {
			c.Retry = errors.RetryConfig{MaxRetries: 2, InitialDelay: 2 * time.Second, MaxDelay: time.Second}
		}},
		{"no workers", func(c *Config) { c.Workers.Count = 0 }},
		{"focus path", func(c *Config) { c.Focus.Path = "ws" }},
		{"nats without urls", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
		{"nats empty subject", func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = "" }},
		{"nats wildcard subject", func(c *Config) { c.NATS.Enabled = true; c.NATS.Subject = "smartcache.>" }},
		{"nats tls missing cert", func(c *Config) { c.NATS.Enabled = true; c.NATS.TLS.Enabled = true }},
		{"relative backend", func(c *Config) { c.Catalog.BackendURL = "/api" }},
		{"https without key", func(c *Config) { c.HTTP.TLS = tlsutil.ServerConfig{Enabled: true, CertFile: "c.pem"} }},
		{"catalog cert without key", func(c *Config) { c.Catalog.TLS.CertFile = "c.pem" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)

	got := sc.Get()
	got.Cache.MaxSize = 1
	got.Catalog.Shops = append(got.Catalog.Shops, "x")
	assert.Equal(t, 100, sc.Get().Cache.MaxSize, "Get returns a copy")
	assert.Empty(t, sc.Get().Catalog.Shops)

	bad := Default()
	bad.Workers.Count = 0
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	good := Default()
	good.Cache.MaxSize = 7
	require.NoError(t, sc.Update(good))
	assert.Equal(t, 7, sc.Get().Cache.MaxSize)
}

func TestCloneKeepsDurations(t *testing.T) {
	cfg := Default()
	cfg.Binding.FetchTimeout = 1500 * time.Millisecond
	cfg.Retry = errors.DefaultRetryConfig()

	clone := cfg.Clone()
	assert.Equal(t, cfg.Cache, clone.Cache)
	assert.Equal(t, cfg.Binding, clone.Binding)
	assert.Equal(t, cfg.Retry.InitialDelay, clone.Retry.InitialDelay)
	assert.Equal(t, cfg.Focus, clone.Focus)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original untouched")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxSize = 321
	cfg.Focus.Throttle = 250 * time.Millisecond
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 321, loaded.Cache.MaxSize)
	assert.Equal(t, 250*time.Millisecond, loaded.Focus.Throttle)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.2.0", "1.1.9", 1},
		{"1.2.3", "1.10.0", -1},
		{"2.0.0", "10.0.0", -1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}

	_, err := CompareVersions("1.0", "1.0.0")
	assert.Error(t, err)
	_, err = CompareVersions("", "1.0.0")
	assert.Error(t, err)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[[{{{{", "b": [1, {"c": 2}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`+`]]`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": {`)))
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", "value"))
	assert.Error(t, validateEnvVar("K", "a\x00b"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}

func TestSchemaIsCopied(t *testing.T) {
	s := Schema()
	s[0] = 'X'
	assert.Equal(t, byte('{'), Schema()[0])
	assert.NoError(t, ValidateSchema([]byte(`{}`)))
}
