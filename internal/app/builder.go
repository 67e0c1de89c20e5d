package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/storepilot/sync-orchestrator/internal/aggregate"
	"github.com/storepilot/sync-orchestrator/internal/config"
	"github.com/storepilot/sync-orchestrator/internal/db"
	"github.com/storepilot/sync-orchestrator/internal/httpclient"
	"github.com/storepilot/sync-orchestrator/internal/jobs"
	"github.com/storepilot/sync-orchestrator/internal/lock"
	"github.com/storepilot/sync-orchestrator/internal/partition"
	"github.com/storepilot/sync-orchestrator/internal/queue"
	"github.com/storepilot/sync-orchestrator/internal/redisclient"
	"github.com/storepilot/sync-orchestrator/internal/remote"
	"github.com/storepilot/sync-orchestrator/internal/remote/httpapi"
	"github.com/storepilot/sync-orchestrator/internal/schedule"
	pkgsync "github.com/storepilot/sync-orchestrator/internal/sync"
	"github.com/storepilot/sync-orchestrator/internal/telemetry"
	"github.com/storepilot/sync-orchestrator/internal/trigger"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// Option configures how the runtime and the app are built
type Option func(*appConfig) error

// appConfig collects the build inputs. Every injectable component is
// created from config when left nil.
type appConfig struct {
	config *config.Config
	logger *slog.Logger

	// Optional component overrides (primarily for testing)
	catalog       *schedule.Catalog
	stores        *Stores
	queue         queue.Queue
	lockStore     lock.Store
	remoteClients map[remote.Platform]remote.Client
	telemetry     *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...Option) (*appConfig, error) {
	cfg := &appConfig{
		logger:         slog.Default(),
		remoteClients:  map[remote.Platform]remote.Client{},
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.catalog == nil {
		cfg.catalog = schedule.DefaultCatalog()
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Option {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithLogger sets the logger handed to every component
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *appConfig) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) Option {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithCatalog replaces the built-in job catalog
func WithCatalog(c *schedule.Catalog) Option {
	return func(cfg *appConfig) error {
		cfg.catalog = c
		return nil
	}
}

// WithStores injects the storage components (for testing)
func WithStores(s *Stores) Option {
	return func(cfg *appConfig) error {
		cfg.stores = s
		return nil
	}
}

// WithQueue injects the message queue (for testing)
func WithQueue(q queue.Queue) Option {
	return func(cfg *appConfig) error {
		cfg.queue = q
		return nil
	}
}

// WithLockStore injects the lock store (for testing)
func WithLockStore(s lock.Store) Option {
	return func(cfg *appConfig) error {
		cfg.lockStore = s
		return nil
	}
}

// WithRemoteClient injects the client of one remote platform (for testing)
func WithRemoteClient(platform remote.Platform, client remote.Client) Option {
	return func(cfg *appConfig) error {
		if client == nil {
			return fmt.Errorf("remote client for %s cannot be nil", platform)
		}
		cfg.remoteClients[platform] = client
		return nil
	}
}

// WithTelemetry sets the tracer and meter providers used by the components
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// Runtime holds the job execution components shared by the serve and run
// commands.
type Runtime struct {
	Catalog    *schedule.Catalog
	Stores     *Stores
	Queue      queue.Queue
	Runner     *jobs.Runner
	Trigger    *trigger.Trigger
	Maintainer *partition.Maintainer

	Database *pgxpool.Pool
	Redis    *redis.Client

	cleanup []func()
}

// NewRuntime connects the configured backends and registers a handler for
// every job type whose dependencies are configured.
func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildRuntime(ctx, cfg)
}

func buildRuntime(ctx context.Context, b *appConfig) (_ *Runtime, err error) {
	rt := &Runtime{Catalog: b.catalog}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err := rt.connect(ctx, b); err != nil {
		return nil, err
	}

	instruments, err := b.telemetry.Instruments()
	if err != nil {
		return nil, err
	}
	tracer := b.telemetry.Tracer()

	locks := lock.NewManager(b.lockStore, lock.WithLogger(b.logger))
	rt.Runner, err = jobs.NewRunner(b.catalog, rt.Stores.Schedules, rt.Stores.Status, locks,
		jobs.WithDefaultLockTTL(b.config.Locks.GetDefaultTTL()),
		jobs.WithLogger(b.logger),
		jobs.WithTracer(tracer),
		jobs.WithMetrics(instruments.Jobs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runner: %w", err)
	}

	dispatcher, err := jobs.NewDispatcher(rt.Queue, b.catalog, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	handlers, err := buildSyncHandlers(b, rt, dispatcher, tracer, instruments.Sync)
	if err != nil {
		return nil, err
	}
	metricHandlers, err := buildMetricHandlers(b, rt, dispatcher, tracer)
	if err != nil {
		return nil, err
	}
	handlers = append(handlers, metricHandlers...)

	if rt.Stores.Partitions != nil {
		rt.Maintainer, err = partition.NewMaintainer(rt.Stores.Partitions,
			partition.WithTable(b.config.Partitions.GetTable()),
			partition.WithLogger(b.logger),
			partition.WithTracer(tracer),
			partition.WithMetrics(instruments.Partitions),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create partition maintainer: %w", err)
		}
		h, err := jobs.NewPartitionHandler(rt.Maintainer, b.config.Partitions.GetLockTTL())
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}

	if err := rt.Runner.Register(handlers...); err != nil {
		return nil, fmt.Errorf("failed to register job handlers: %w", err)
	}

	rt.Trigger, err = trigger.New(rt.Stores.Schedules, b.catalog, rt.Queue,
		trigger.WithReloadInterval(b.config.Scheduler.GetReloadInterval()),
		trigger.WithLogger(b.logger),
		trigger.WithLockReaper(locks),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	b.logger.InfoContext(ctx, "Job runtime initialized",
		"handlers", len(handlers),
		"lock_backend", b.config.Locks.GetBackend())
	return rt, nil
}

// connect opens the database and Redis connections and picks the store,
// queue and lock backends.
func (rt *Runtime) connect(ctx context.Context, b *appConfig) error {
	cfg := b.config

	if cfg.Database != nil && (b.stores == nil || (b.lockStore == nil && cfg.Locks.GetBackend() == config.LockBackendPostgres)) {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.Database = pool
		rt.cleanup = append(rt.cleanup, pool.Close)
	}
	if cfg.Redis != nil && (b.queue == nil || (b.lockStore == nil && cfg.Locks.GetBackend() == config.LockBackendRedis)) {
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		rt.Redis = client
		rt.cleanup = append(rt.cleanup, func() {
			if err := client.Close(); err != nil {
				slog.Error("Failed to close redis client", "error", err)
			}
		})
	}

	rt.Stores = b.stores
	if rt.Stores == nil {
		if rt.Database == nil {
			return fmt.Errorf("database configuration is required")
		}
		stores, err := NewDatabaseStores(rt.Database)
		if err != nil {
			return err
		}
		rt.Stores = stores
	}

	rt.Queue = b.queue
	if rt.Queue == nil {
		if rt.Redis != nil {
			rt.Queue = queue.NewRedisQueue(rt.Redis, cfg.Redis.GetKeyPrefix())
		} else {
			b.logger.WarnContext(ctx, "No redis configured, using an in-process queue")
			rt.Queue = queue.NewMemoryQueue()
		}
	}

	if b.lockStore == nil {
		switch cfg.Locks.GetBackend() {
		case config.LockBackendPostgres:
			if rt.Database == nil {
				return fmt.Errorf("postgres lock backend requires a database configuration")
			}
			b.lockStore = lock.NewPostgresStore(rt.Database)
		case config.LockBackendRedis:
			if rt.Redis == nil {
				return fmt.Errorf("redis lock backend requires a redis configuration")
			}
			b.lockStore = lock.NewRedisStore(rt.Redis, cfg.Redis.GetKeyPrefix())
		default:
			b.lockStore = lock.NewMemoryStore()
		}
	}
	return nil
}

type syncHandlerFactory func(*pkgsync.Engine, remote.ShopStore, ...jobs.SyncOption) (*jobs.SyncHandler, error)

func buildSyncHandlers(
	b *appConfig,
	rt *Runtime,
	dispatcher *jobs.Dispatcher,
	tracer trace.Tracer,
	metrics *telemetry.SyncMetrics,
) ([]jobs.Handler, error) {
	var handlers []jobs.Handler
	syncOpts := []jobs.SyncOption{
		jobs.WithDispatcher(dispatcher),
		jobs.WithInitialLookback(b.config.Sync.GetInitialLookback()),
		jobs.WithSyncLogger(b.logger),
	}

	remotes := []struct {
		platform remote.Platform
		cfg      *config.RemoteConfig
		build    []syncHandlerFactory
	}{
		{
			platform: remote.PlatformStorefront,
			cfg:      b.config.Storefront,
			build:    []syncHandlerFactory{jobs.NewOrdersSyncHandler, jobs.NewRefreshStatusesHandler},
		},
		{
			platform: remote.PlatformMarketplace,
			cfg:      b.config.Marketplace,
			build:    []syncHandlerFactory{jobs.NewMarketplaceSyncHandler},
		},
	}

	for _, r := range remotes {
		client, err := remoteClient(b, r.platform, r.cfg)
		if err != nil {
			return nil, err
		}
		if client == nil {
			b.logger.Info("Remote platform not configured, its sync jobs are disabled", "platform", r.platform)
			continue
		}
		engine, err := pkgsync.NewEngine(client, rt.Stores.Orders, rt.Stores.Cursors,
			pkgsync.WithMaxPages(b.config.Sync.GetMaxPages()),
			pkgsync.WithLogger(b.logger),
			pkgsync.WithTracer(tracer),
			pkgsync.WithMetrics(metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s sync engine: %w", r.platform, err)
		}
		for _, build := range r.build {
			h, err := build(engine, rt.Stores.Shops, syncOpts...)
			if err != nil {
				return nil, err
			}
			handlers = append(handlers, h)
		}
	}
	return handlers, nil
}

func buildMetricHandlers(
	b *appConfig,
	rt *Runtime,
	dispatcher *jobs.Dispatcher,
	tracer trace.Tracer,
) ([]jobs.Handler, error) {
	customers, err := aggregate.NewEngine(aggregate.KindCustomers, rt.Stores.Customers,
		aggregate.WithDependent(dispatcher.TagRulesDependent()),
		aggregate.WithLogger(b.logger),
		aggregate.WithTracer(tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer metrics engine: %w", err)
	}
	variants, err := aggregate.NewEngine(aggregate.KindVariants, rt.Stores.Variants,
		aggregate.WithLogger(b.logger),
		aggregate.WithTracer(tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create variant metrics engine: %w", err)
	}
	applier, err := aggregate.NewTagRuleApplier(rt.Stores.Tags, b.logger)
	if err != nil {
		return nil, err
	}

	customersHandler, err := jobs.NewRecalculateHandler(customers)
	if err != nil {
		return nil, err
	}
	variantsHandler, err := jobs.NewRecalculateHandler(variants)
	if err != nil {
		return nil, err
	}
	tagsHandler, err := jobs.NewTagRulesHandler(applier)
	if err != nil {
		return nil, err
	}
	return []jobs.Handler{customersHandler, variantsHandler, tagsHandler}, nil
}

// remoteClient returns the injected client of platform, an HTTP adapter
// when the platform is configured, or nil.
func remoteClient(b *appConfig, platform remote.Platform, rc *config.RemoteConfig) (remote.Client, error) {
	if client, ok := b.remoteClients[platform]; ok {
		return client, nil
	}
	if rc == nil {
		return nil, nil
	}
	token, err := rc.GetToken(string(platform))
	if err != nil {
		return nil, err
	}
	adapter, err := httpapi.New(rc.BaseURL, token,
		httpapi.WithHTTPClient(httpclient.NewDefaultClient(rc.GetTimeout())),
		httpapi.WithMaxRetries(rc.GetMaxRetries()),
		httpapi.WithLogger(b.logger.With("platform", string(platform))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", platform, err)
	}
	return adapter, nil
}

// Close releases the connections opened by the runtime
func (rt *Runtime) Close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
	rt.cleanup = nil
}
