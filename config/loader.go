package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/smartcache/errors"
)

// DefaultEnvPrefix is prepended to every environment override.
const DefaultEnvPrefix = "SMARTCACHE"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer onto the defaults, applies environment overrides
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = mergeJSON(cfg, data)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRawJSON reads a layer and checks it against the schema.
func (l *Loader) loadRawJSON(path string) ([]byte, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRawJSON", "invalid JSON structure")
	}

	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	return data, nil
}

// mergeJSON overlays the fields present in data onto base.
func mergeJSON(base *Config, data []byte) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap, override map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies <PREFIX>_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	get := func(name string) (string, bool) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := validateEnvVar(key, val); err != nil {
			if firstErr == nil {
				firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
			}
			return "", false
		}
		return val, true
	}
	fail := func(name string, err error) {
		if firstErr == nil {
			firstErr = errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+name)
		}
	}
	setInt := func(name string, dst *int) {
		if val, ok := get(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val, ok := get(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = b
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if val, ok := get(name); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = d
		}
	}

	if val, ok := get("HTTP_ADDR"); ok {
		cfg.HTTP.Addr = val
	}

	setInt("CACHE_MAX_SIZE", &cfg.Cache.MaxSize)
	setDuration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL)
	setBool("CACHE_ENABLE_LRU", &cfg.Cache.EnableLRU)

	setBool("BINDING_ENABLED", &cfg.Binding.Enabled)
	setBool("BINDING_REFETCH_ON_WINDOW_FOCUS", &cfg.Binding.RefetchOnWindowFocus)
	setDuration("BINDING_FETCH_TIMEOUT", &cfg.Binding.FetchTimeout)

	setInt("WORKERS_COUNT", &cfg.Workers.Count)
	setInt("WORKERS_QUEUE_SIZE", &cfg.Workers.QueueSize)

	setBool("NATS_ENABLED", &cfg.NATS.Enabled)
	if val, ok := get("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok := get("NATS_USERNAME"); ok {
		cfg.NATS.Username = val
	}
	if val, ok := get("NATS_PASSWORD"); ok {
		cfg.NATS.Password = val
	}
	if val, ok := get("NATS_TOKEN"); ok {
		cfg.NATS.Token = val
	}

	if val, ok := get("CATALOG_BACKEND_URL"); ok {
		cfg.Catalog.BackendURL = val
	}
	if val, ok := get("CATALOG_SHOPS"); ok {
		cfg.Catalog.Shops = strings.Split(val, ",")
	}

	return firstErr
}
