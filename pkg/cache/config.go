package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/smartcache/errors"
)

// OverflowPolicy decides what Set does on a full store when LRU eviction is disabled.
type OverflowPolicy string

const (
	// OverflowReject refuses the insert with errors.ErrCapacityExceeded.
	OverflowReject OverflowPolicy = "reject"

	// OverflowReplaceOldest removes the entry with the oldest StoredAt to make room.
	OverflowReplaceOldest OverflowPolicy = "replace_oldest"
)

// Config contains configuration for a Store.
type Config struct {
	// MaxSize is the maximum number of entries.
	MaxSize int `json:"max_size" schema:"editable,type:int,description:Maximum number of cache entries,min:1"`

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration `json:"default_ttl" schema:"editable,type:string,description:Default time-to-live for entries"`

	// EnableLRU evicts the least recently accessed entry when the store is full.
	EnableLRU bool `json:"enable_lru" schema:"editable,type:bool,description:Evict least recently used entry at capacity"`

	// EnableStats turns hit/miss accounting on. Size is reported either way.
	EnableStats bool `json:"enable_stats" schema:"editable,type:bool,description:Track hits and misses"`

	// OverflowPolicy applies only when EnableLRU is false.
	OverflowPolicy OverflowPolicy `json:"overflow_policy,omitempty" schema:"editable,type:enum,description:Behaviour at capacity without LRU,enum:reject|replace_oldest"`

	// CleanupInterval is how often the background sweep runs. Zero disables it.
	CleanupInterval time.Duration `json:"cleanup_interval" schema:"editable,type:string,description:How often to purge expired entries"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:         100,
		DefaultTTL:      5 * time.Minute,
		EnableLRU:       true,
		EnableStats:     true,
		OverflowPolicy:  OverflowReject,
		CleanupInterval: 60 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_size must be positive, got %d", c.MaxSize))
	}
	if c.DefaultTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("default_ttl cannot be negative, got %v", c.DefaultTTL))
	}
	if c.CleanupInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval cannot be negative, got %v", c.CleanupInterval))
	}

	switch c.OverflowPolicy {
	case "", OverflowReject, OverflowReplaceOldest:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("unknown overflow_policy: %s", c.OverflowPolicy))
	}

	return nil
}

// overflowPolicy returns the effective policy, treating empty as reject.
func (c Config) overflowPolicy() OverflowPolicy {
	if c.OverflowPolicy == "" {
		return OverflowReject
	}
	return c.OverflowPolicy
}

// UnmarshalJSON implements custom JSON unmarshaling for Config to support
// duration strings (e.g., "5m", "30s") in addition to nanosecond integers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		DefaultTTL      json.RawMessage `json:"default_ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.DefaultTTL) > 0 {
		ttl, err := ParseDurationField(aux.DefaultTTL, "default_ttl")
		if err != nil {
			return err
		}
		c.DefaultTTL = ttl
	}

	if len(aux.CleanupInterval) > 0 {
		interval, err := ParseDurationField(aux.CleanupInterval, "cleanup_interval")
		if err != nil {
			return err
		}
		c.CleanupInterval = interval
	}

	return nil
}

// MarshalJSON writes durations as strings so the output loads back unchanged.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		DefaultTTL      string `json:"default_ttl"`
		CleanupInterval string `json:"cleanup_interval"`
		*Alias
	}{
		DefaultTTL:      c.DefaultTTL.String(),
		CleanupInterval: c.CleanupInterval.String(),
		Alias:           (*Alias)(&c),
	})
}

// ParseDurationField parses a JSON duration field that can be either:
// - A string (duration like "1h", "5m", "30s")
// - An integer (nanoseconds)
func ParseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '5m') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
