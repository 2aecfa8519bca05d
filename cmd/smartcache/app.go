package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/smartcache/config"
	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/health"
	"github.com/c360/smartcache/metric"
	"github.com/c360/smartcache/natsclient"
	"github.com/c360/smartcache/pkg/binding"
	"github.com/c360/smartcache/pkg/cache"
	"github.com/c360/smartcache/pkg/tlsutil"
	"github.com/c360/smartcache/pkg/trigger"
	"github.com/c360/smartcache/pkg/trigger/natstrigger"
	"github.com/c360/smartcache/pkg/trigger/wsfocus"
	"github.com/c360/smartcache/pkg/worker"
)

const natsConnectTimeout = 10 * time.Second

// app wires the product cache, its bindings and the revalidation sources.
type app struct {
	conf     *config.SafeConfig
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	store   *cache.Store[[]Product]
	catalog *Catalog
	pool    *worker.Pool[worker.Task]

	focus     *wsfocus.Handler
	focusHub  *trigger.Broadcaster
	remoteHub *trigger.Broadcaster

	nats      *natsclient.Client
	natsSrc   *natstrigger.Source
	publisher *natstrigger.Publisher
	cfgMgr    *config.Manager

	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	bindings map[string]*binding.Binding[[]Product] // by binding name
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	a := &app{
		conf:      config.NewSafeConfig(cfg),
		logger:    logger,
		registry:  registry,
		monitor:   health.NewMonitor(core),
		focusHub:  trigger.NewBroadcaster("focus"),
		remoteHub: trigger.NewBroadcaster("remote"),
		bindings:  make(map[string]*binding.Binding[[]Product]),
	}

	store, err := cache.New[[]Product](ctx, cfg.Cache,
		cache.WithMetrics[[]Product](registry, "products"),
		cache.WithLogger[[]Product](logger),
		cache.WithEvictionCallback[[]Product](a.onEvict),
		cache.WithClone(slices.Clone[[]Product]),
	)
	if err != nil {
		return nil, err
	}
	a.store = store

	if a.catalog, err = NewCatalog(cfg.Catalog); err != nil {
		return nil, err
	}

	a.pool, err = binding.NewExecutor(cfg.Workers.Count, cfg.Workers.QueueSize,
		worker.WithMetricsRegistry[worker.Task](registry, "fetch"))
	if err != nil {
		return nil, errors.WrapInvalid(err, "app", "newApp", "fetch pool")
	}

	a.focus = wsfocus.New(
		wsfocus.WithLogger(logger),
		wsfocus.WithMetrics(core),
		wsfocus.WithAllowedOrigins(cfg.Focus.AllowedOrigins...),
		wsfocus.WithReadTimeout(cfg.Focus.ReadTimeout),
	)

	if cfg.NATS.Enabled {
		if err := a.setupNATS(cfg); err != nil {
			return nil, err
		}
	}

	a.monitor.Register("cache", func() health.Status {
		return health.FromCacheStats("cache", a.store.Stats(), health.DefaultCacheThresholds())
	})
	a.monitor.Register("workers", a.workersHealth)

	return a, nil
}

func (a *app) setupNATS(cfg *config.Config) error {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry.CoreMetrics()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	switch {
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return errors.WrapInvalid(err, "app", "setupNATS", "create client")
	}
	a.nats = client
	a.publisher = natstrigger.NewPublisher(client, cfg.NATS.Subject)
	a.natsSrc = natstrigger.NewSource(client, cfg.NATS.Subject,
		natstrigger.WithSourceLogger(a.logger),
		natstrigger.IgnoreOrigin(a.publisher.Origin()),
	)

	if cfg.NATS.ConfigSubject != "" {
		mgr, err := config.NewConfigManager(cfg, client, cfg.NATS.ConfigSubject, a.logger)
		if err != nil {
			return err
		}
		a.cfgMgr = mgr
		a.conf = mgr.GetConfig()
	}

	a.monitor.Register("nats", func() health.Status {
		return health.FromNATS("nats", client.GetStatus())
	})
	return nil
}

// start connects NATS, starts the pool and relays, and binds the configured
// shops. Everything started here stops in shutdown.
func (a *app) start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	runCtx := a.ctx
	a.mu.Unlock()

	if a.nats != nil {
		if err := a.connectNATS(runCtx); err != nil {
			return err
		}
	}

	if err := a.pool.Start(runCtx); err != nil {
		return errors.WrapFatal(err, "app", "start", "fetch pool")
	}

	core := a.registry.CoreMetrics()
	go a.relay(runCtx, trigger.Instrument(a.focus, core), a.focusHub, nil)
	if a.natsSrc != nil {
		go a.relay(runCtx, trigger.Instrument(a.natsSrc, core), a.remoteHub, a.onRemote)
	}

	for _, shop := range a.conf.Get().Catalog.Shops {
		if _, err := a.bind(shop); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	if err := a.nats.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "app", "connectNATS", "connect")
	}

	connCtx, cancel := context.WithTimeout(ctx, natsConnectTimeout)
	defer cancel()
	if err := a.nats.WaitForConnection(connCtx); err != nil {
		return err
	}

	if err := a.natsSrc.Start(ctx); err != nil {
		return err
	}
	if a.cfgMgr != nil {
		if err := a.cfgMgr.Start(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("Connected to NATS", "url", a.nats.URL())
	return nil
}

// relay forwards src into hub so each signal is counted once no matter how
// many bindings listen. hook, when set, sees every signal first.
func (a *app) relay(ctx context.Context, src trigger.Source, hub *trigger.Broadcaster, hook func(trigger.Signal)) {
	for sig := range src.Signals(ctx) {
		if hook != nil {
			hook(sig)
		}
		hub.Fire(sig)
	}
}

// onRemote drops invalidated keys nobody here is bound to.
func (a *app) onRemote(sig trigger.Signal) {
	if sig.Event == trigger.EventInvalidate && sig.Key != "" {
		a.store.Delete(sig.Key)
	}
}

func (a *app) onEvict(key string, _ []Product, reason cache.EvictionReason) {
	if reason == cache.ReasonCapacity || reason == cache.ReasonExpired {
		a.logger.Debug("Entry left cache", "key", key, "reason", reason)
	}
}

func bindingName(shopID string) string {
	return "shop-" + shopID
}

// bind creates and starts the binding for shopID, or returns the existing one.
func (a *app) bind(shopID string) (*binding.Binding[[]Product], error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}
	name := bindingName(shopID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bindings[name]; ok {
		return b, nil
	}

	cfg := a.conf.Get()
	var focus trigger.Source = a.focusHub
	if cfg.Focus.Throttle > 0 {
		focus = trigger.Throttle(a.focusHub, rate.Every(cfg.Focus.Throttle), 1)
	}

	key := ProductsKey(shopID)
	opts := []binding.Option{
		binding.WithConfig(cfg.Binding),
		binding.WithName(name),
		binding.WithDependencies(shopID),
		binding.WithTriggers(focus, trigger.ForKey(a.remoteHub, key)),
		binding.WithExecutor(a.pool),
		binding.WithLogger(a.logger),
		binding.WithMetrics(a.registry),
	}
	if cfg.Retry.MaxRetries > 0 {
		opts = append(opts, binding.WithRetry(cfg.Retry.ToRetryConfig()))
	}

	b, err := binding.New(a.store, key, a.catalog.Fetcher(shopID), opts...)
	if err != nil {
		return nil, err
	}
	if a.ctx != nil {
		if err := b.Start(a.ctx); err != nil {
			return nil, err
		}
	}
	a.bindings[name] = b

	a.monitor.Register("binding."+name, func() health.Status {
		st := b.State()
		return health.FromFetchError("binding."+name, st.Err, st.HasData)
	})
	a.logger.Info("Bound shop", "shop", shopID, "binding", name, "key", b.Key())
	return b, nil
}

func (a *app) binding(name string) (*binding.Binding[[]Product], bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.bindings[name]
	return b, ok
}

func (a *app) bindingNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.bindings))
	for name := range a.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// invalidate removes key here, resets any binding on it and tells peers.
func (a *app) invalidate(ctx context.Context, key string) (bool, error) {
	existed := a.store.Delete(key)
	a.remoteHub.Fire(trigger.Signal{Event: trigger.EventInvalidate, Key: key, Source: "admin", At: time.Now()})

	if a.publisher == nil {
		return existed, nil
	}
	return existed, a.publisher.Invalidate(ctx, key)
}

// watchConfig applies runtime config changes until ctx is done. Retry,
// throttle and catalog changes affect bindings created afterwards.
func (a *app) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.OnChange("*")
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			a.applyConfig(u.Config.Get())
		}
	}
}

func (a *app) applyConfig(cfg *config.Config) {
	a.mu.RLock()
	for _, b := range a.bindings {
		b.SetEnabled(cfg.Binding.Enabled)
	}
	a.mu.RUnlock()

	for _, shop := range cfg.Catalog.Shops {
		if _, err := a.bind(shop); err != nil {
			a.logger.Error("Failed to bind shop from config update", "shop", shop, "error", err)
		}
	}
}

func (a *app) workersHealth() health.Status {
	st := a.pool.Stats()
	status := health.NewHealthy("workers", "Fetch pool accepting work")
	if st.QueueSize > 0 && st.QueueDepth*10 >= st.QueueSize*9 {
		status = health.NewDegraded("workers", fmt.Sprintf("fetch queue %d/%d", st.QueueDepth, st.QueueSize))
	}
	return status.WithMetrics(&health.Metrics{ErrorCount: int(st.Failed + st.Panicked)})
}

// shutdown stops everything start created, in reverse order.
func (a *app) shutdown(timeout time.Duration) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	bindings := make([]*binding.Binding[[]Product], 0, len(a.bindings))
	for _, b := range a.bindings {
		bindings = append(bindings, b)
	}
	a.mu.Unlock()

	for _, b := range bindings {
		b.Close()
	}
	a.focus.Close()
	a.focusHub.Close()
	a.remoteHub.Close()

	var errs []error
	if err := a.pool.Stop(timeout); err != nil {
		errs = append(errs, fmt.Errorf("stop fetch pool: %w", err))
	}

	if a.nats != nil {
		if a.cfgMgr != nil {
			if err := a.cfgMgr.Stop(timeout); err != nil {
				errs = append(errs, fmt.Errorf("stop config manager: %w", err))
			}
		}
		if err := a.natsSrc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop nats source: %w", err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close nats: %w", err))
		}
		cancel()
	}

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return stderrors.Join(errs...)
}

// Run serves HTTP until ctx is done, then shuts everything down.
func (a *app) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		a.logger.Error("Startup failed", "error", err)
		return stderrors.Join(err, a.shutdown(a.conf.Get().HTTP.ShutdownTimeout))
	}

	cfg := a.conf.Get()
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	tlsConfig, err := tlsutil.ServerTLS(cfg.HTTP.TLS)
	if err != nil {
		return stderrors.Join(err, a.shutdown(cfg.HTTP.ShutdownTimeout))
	}
	srv.TLSConfig = tlsConfig

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr, "tls", tlsConfig != nil)
		var err error
		if tlsConfig != nil {
			// Certificates come from srv.TLSConfig.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfgMgr != nil {
		g.Go(func() error {
			a.watchConfig(gctx)
			return nil
		})
	}

	err = g.Wait()
	a.logger.Info("Shutting down")
	return stderrors.Join(err, a.shutdown(cfg.HTTP.ShutdownTimeout))
}
