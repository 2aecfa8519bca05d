package binding

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/smartcache/metric"
	"github.com/c360/smartcache/pkg/cache"
	"github.com/c360/smartcache/pkg/retry"
	"github.com/c360/smartcache/pkg/trigger"
	"github.com/c360/smartcache/pkg/worker"
)

// Config holds the declarative binding settings.
type Config struct {
	Enabled              bool          `json:"enabled" schema:"type:bool,description:Fetch on start and on triggers,default:true"`
	RefetchOnWindowFocus bool          `json:"refetch_on_window_focus" schema:"type:bool,description:Revalidate on focus and visibility signals,default:true"`
	FetchTimeout         time.Duration `json:"fetch_timeout,omitempty" schema:"type:duration,description:Deadline added to each fetch (0 = none)"`
}

// DefaultConfig returns the defaults: enabled with refetch on focus.
func DefaultConfig() Config {
	return Config{Enabled: true, RefetchOnWindowFocus: true}
}

// UnmarshalJSON accepts fetch_timeout as a duration string or nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		FetchTimeout json.RawMessage `json:"fetch_timeout,omitempty"`
		*Alias
	}{Alias: (*Alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.FetchTimeout) > 0 {
		d, err := cache.ParseDurationField(aux.FetchTimeout, "fetch_timeout")
		if err != nil {
			return err
		}
		c.FetchTimeout = d
	}
	return nil
}

// MarshalJSON writes fetch_timeout as a duration string.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		FetchTimeout string `json:"fetch_timeout"`
		*Alias
	}{FetchTimeout: c.FetchTimeout.String(), Alias: (*Alias)(&c)})
}

// Executor runs fetch tasks. *worker.Pool[worker.Task] satisfies it.
type Executor interface {
	Submit(task worker.Task) error
}

// goExecutor runs every task on its own goroutine.
type goExecutor struct{}

func (goExecutor) Submit(task worker.Task) error {
	go func() { _ = task(context.Background()) }()
	return nil
}

type options struct {
	name           string
	deps           []any
	enabled        bool
	refetchOnFocus bool
	triggers       []trigger.Source
	executor       Executor
	retry          *retry.Config
	fetchTimeout   time.Duration
	logger         *slog.Logger

	metricsReg *metric.MetricsRegistry
}

// Option configures a Binding.
type Option func(*options)

// WithConfig applies a Config.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.enabled = cfg.Enabled
		o.refetchOnFocus = cfg.RefetchOnWindowFocus
		o.fetchTimeout = cfg.FetchTimeout
	}
}

// WithName names the binding in logs and metrics. Defaults to the key.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithDependencies sets the initial dependency list.
func WithDependencies(deps ...any) Option {
	return func(o *options) {
		o.deps = append([]any(nil), deps...)
	}
}

// WithEnabled sets whether the binding fetches at all.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithRefetchOnFocus sets whether focus and visibility signals revalidate.
func WithRefetchOnFocus(enabled bool) Option {
	return func(o *options) {
		o.refetchOnFocus = enabled
	}
}

// WithTriggers attaches revalidation sources. They are subscribed on Start.
func WithTriggers(sources ...trigger.Source) Option {
	return func(o *options) {
		o.triggers = append(o.triggers, sources...)
	}
}

// WithExecutor runs fetches on exec instead of fresh goroutines.
func WithExecutor(exec Executor) Option {
	return func(o *options) {
		if exec != nil {
			o.executor = exec
		}
	}
}

// WithRetry retries failed fetches. Without it a failure is final until the
// next revalidation.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = &cfg
	}
}

// WithFetchTimeout adds a deadline to every fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fetchTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports fetch and revalidation counters labelled with the
// binding name.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.metricsReg = registry
	}
}
