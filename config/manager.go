package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/natsclient"
)

// Sections that can change while the service runs. The rest size or bind
// long-lived resources and need a restart.
var hotSections = map[string]bool{
	"binding": true,
	"retry":   true,
	"focus":   true,
	"catalog": true,
}

// Update represents a configuration change notification
type Update struct {
	Path   string      // Changed section, e.g. "binding"
	Config *SafeConfig // Full latest configuration
}

// Message is a remote configuration change as published on the config
// subject. Value is merged onto the named section, so it may be partial.
type Message struct {
	Version string          `json:"version,omitempty"`
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value"`
}

// Manager applies runtime configuration changes received over NATS and
// fans them out to subscribers.
type Manager struct {
	config      *SafeConfig
	client      *natsclient.Client
	subject     string
	sub         *natsclient.Subscription
	subscribers map[string][]chan Update
	mu          sync.RWMutex
	logger      *slog.Logger

	stopped atomic.Bool
}

// NewConfigManager creates a manager listening on subject.
func NewConfigManager(cfg *Config, client *natsclient.Client, subject string, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewConfigManager", "config cannot be nil")
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Manager", "NewConfigManager", "nats client cannot be nil")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "NewConfigManager", "subject cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:      NewSafeConfig(cfg),
		client:      client,
		subject:     subject,
		subscribers: make(map[string][]chan Update),
		logger:      logger.With("component", "config-manager"),
	}, nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes matching the pattern.
// The channel receives the current configuration immediately.
// Pattern examples:
//   - "binding" - exact section
//   - "*" - every section
func (cm *Manager) OnChange(pattern string) <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers[pattern] = append(cm.subscribers[pattern], ch)
	cm.mu.Unlock()

	ch <- Update{Path: pattern, Config: cm.config}
	return ch
}

// Start subscribes to the config subject.
func (cm *Manager) Start(ctx context.Context) error {
	sub, err := cm.client.Subscribe(ctx, cm.subject, func(_ context.Context, data []byte) {
		cm.handleMessage(data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Manager", "Start", "subscribe "+cm.subject)
	}

	cm.mu.Lock()
	cm.sub = sub
	cm.mu.Unlock()

	cm.logger.Info("Watching for configuration updates", "subject", cm.subject)
	return nil
}

// Stop unsubscribes and closes all subscriber channels. timeout bounds
// the wait for the NATS unsubscribe.
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	var err error
	if cm.sub != nil {
		done := make(chan error, 1)
		go func() { done <- cm.sub.Unsubscribe() }()
		select {
		case err = <-done:
		case <-time.After(timeout):
			cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
		}
	}

	for _, channels := range cm.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	cm.subscribers = make(map[string][]chan Update)
	return err
}

// Publish sends the current value of section to every instance listening
// on the config subject, this one included.
func (cm *Manager) Publish(ctx context.Context, section string) error {
	cfg := cm.config.Get()

	full, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapFatal(err, "Manager", "Publish", "marshal config")
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(full, &sections); err != nil {
		return errors.WrapFatal(err, "Manager", "Publish", "split config")
	}
	value, ok := sections[section]
	if !ok {
		return errors.WrapInvalid(errors.ErrConfigNotFound, "Manager", "Publish", "unknown section "+section)
	}

	data, err := json.Marshal(Message{Version: cfg.Version, Path: section, Value: value})
	if err != nil {
		return errors.WrapFatal(err, "Manager", "Publish", "marshal message")
	}
	return cm.client.Publish(ctx, cm.subject, data)
}

// Apply merges value onto section, validates the result and notifies
// subscribers.
func (cm *Manager) Apply(section string, value []byte) error {
	if cm.stopped.Load() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "Apply", "manager stopped")
	}
	if err := cm.updateConfig(section, value); err != nil {
		return err
	}
	cm.notify(section)
	return nil
}

func (cm *Manager) handleMessage(data []byte) {
	if cm.stopped.Load() {
		return
	}
	if len(data) > maxConfigSize {
		cm.logger.Warn("Dropping oversized config update", "bytes", len(data))
		return
	}
	if err := validateJSONDepth(data); err != nil {
		cm.logger.Warn("Dropping malformed config update", "error", err)
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		cm.logger.Warn("Dropping undecodable config update", "error", err)
		return
	}

	if msg.Version != "" {
		current := cm.config.Get().Version
		cmp, err := CompareVersions(msg.Version, current)
		if err != nil {
			cm.logger.Warn("Dropping config update with bad version", "version", msg.Version, "error", err)
			return
		}
		if cmp < 0 {
			cm.logger.Warn("Ignoring config update older than local config",
				"update_version", msg.Version, "local_version", current, "path", msg.Path)
			return
		}
	}

	if err := cm.Apply(msg.Path, msg.Value); err != nil {
		cm.logger.Error("Failed to update configuration", "path", msg.Path, "error", err)
		return
	}
	cm.logger.Info("Configuration updated", "path", msg.Path)
}

// updateConfig merges a single section update onto the current config.
func (cm *Manager) updateConfig(section string, value []byte) error {
	if !hotSections[section] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "updateConfig",
			fmt.Sprintf("section %q cannot change at runtime", section))
	}
	if len(value) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "updateConfig", "empty value for "+section)
	}

	doc, err := json.Marshal(map[string]json.RawMessage{section: value})
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "updateConfig", "encode update")
	}
	if err := ValidateSchema(doc); err != nil {
		return err
	}

	merged, err := mergeJSON(cm.config.Get(), doc)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "updateConfig", "merge "+section)
	}
	return cm.config.Update(merged)
}

func (cm *Manager) notify(section string) {
	update := Update{Path: section, Config: cm.config}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for pattern, channels := range cm.subscribers {
		if !matchesPattern(section, pattern) {
			continue
		}
		for _, ch := range channels {
			// Slow subscribers miss intermediate updates; Config always
			// reads the latest values.
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// matchesPattern checks if a section matches a subscription pattern
func matchesPattern(key, pattern string) bool {
	if pattern == key || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return false
}
