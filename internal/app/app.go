// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/auth"
	"github.com/JakeFAU/headless-fetch/internal/browser"
	"github.com/JakeFAU/headless-fetch/internal/browser/chrome"
	"github.com/JakeFAU/headless-fetch/internal/config"
	"github.com/JakeFAU/headless-fetch/internal/crawler"
	"github.com/JakeFAU/headless-fetch/internal/dispatcher"
	"github.com/JakeFAU/headless-fetch/internal/fetcher/headless"
	"github.com/JakeFAU/headless-fetch/internal/metrics"
	"github.com/JakeFAU/headless-fetch/internal/policy/ratelimit"
	"github.com/JakeFAU/headless-fetch/internal/progress"
	"github.com/JakeFAU/headless-fetch/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/headless-fetch/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/headless-fetch/internal/queue/memory"
	"github.com/JakeFAU/headless-fetch/internal/storage/gcs"
	"github.com/JakeFAU/headless-fetch/internal/storage/local"
	"github.com/JakeFAU/headless-fetch/internal/storage/postgres"
	"github.com/JakeFAU/headless-fetch/internal/telemetry"
)

// App holds all the shared, long-lived services for one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Queue      crawler.QueueStore
	Auth       *auth.Store
	Open       *crawler.OpenRequestSet
	Hub        *progress.Hub
	Client     *headless.Client
	Dispatcher *dispatcher.Dispatcher

	closers []func(context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	launcher   browser.Launcher
	queue      crawler.QueueStore
	listeners  progress.Listeners
	registerer prometheus.Registerer
	blobs      sinks.BlobStore
	publisher  sinks.Publisher
	tracing    bool
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithQueue replaces the configured queue store.
func WithQueue(q crawler.QueueStore) Option {
	return func(o *options) { o.queue = q }
}

// WithListener receives every fetch event synchronously on the fetching
// goroutine, ahead of the asynchronous sinks.
func WithListener(fn func(progress.Event)) Option {
	return func(o *options) { o.listeners = append(o.listeners, fn) }
}

// WithRegisterer registers event collectors on reg instead of the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBlobStore replaces the configured document store.
func WithBlobStore(s sinks.BlobStore) Option {
	return func(o *options) { o.blobs = s }
}

// WithPublisher replaces the configured outcome publisher.
func WithPublisher(p sinks.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithoutTracing skips installing a global tracer provider.
func WithoutTracing() Option {
	return func(o *options) { o.tracing = false }
}

// New builds every service described by cfg. On error, anything already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := options{tracing: true}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.closeResources(context.Background()); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	logger.Info("initializing application services")
	metrics.Init()

	if o.tracing {
		tp, err := telemetry.Init(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, tp.Shutdown)
	}

	if a.Queue, err = a.openQueue(ctx, o.queue); err != nil {
		return nil, err
	}

	a.Auth = auth.NewStore()
	if err := a.Auth.Load(cfg.Auth); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	a.Open = crawler.NewOpenRequestSet(metrics.SetOpenRequests)

	eventSinks, err := a.buildSinks(ctx, o)
	if err != nil {
		return nil, err
	}
	a.Hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.Events.MaxBatchWait,
		SinkTimeout:    cfg.Events.SinkTimeout,
		Logger:         logger.Named("events"),
	}, eventSinks...)

	launcher := o.launcher
	if launcher == nil {
		launcher = chrome.NewLauncher(logger.Named("chrome"))
	}
	a.Client, err = headless.NewClient(headless.Config{
		Timeout:          cfg.Crawler.Timeout,
		IdleTime:         cfg.Crawler.IdleTime,
		IgnoreInvalidSSL: cfg.Crawler.IgnoreInvalidSSL,
		UserAgent:        cfg.Crawler.UserAgent,
		Proxy:            cfg.Proxy,
	}, headless.Deps{
		Launcher: launcher,
		Queue:    a.Queue,
		Auth:     a.Auth,
		Open:     a.Open,
		Events:   progress.Multi(o.listeners, a.Hub),
	}, headless.WithLogger(logger.Named("fetch")))
	if err != nil {
		return nil, fmt.Errorf("init fetch client: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RatePerHost, Burst: cfg.Crawler.Burst})
	a.Dispatcher = dispatcher.New(
		a.Queue,
		a.Client,
		limiter,
		dispatcher.Config{MaxConcurrency: cfg.Crawler.MaxConcurrency, PollInterval: cfg.Crawler.PollInterval},
		logger.Named("dispatcher"),
		dispatcher.WithOpenRequests(a.Open),
	)

	logger.Info("application services initialized",
		zap.String("queue", cfg.Queue.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)
	return a, nil
}

func (a *App) openQueue(ctx context.Context, override crawler.QueueStore) (crawler.QueueStore, error) {
	if override != nil {
		return override, nil
	}
	switch a.Config.Queue.Driver {
	case config.QueuePostgres:
		store, err := postgres.NewQueueStore(ctx, postgres.Config{
			DSN:      a.Config.Queue.DSN,
			Table:    a.Config.Queue.Table,
			MaxConns: a.Config.Queue.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres queue: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.QueueMemory, "":
		return queueMemory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", a.Config.Queue.Driver)
	}
}

func (a *App) buildSinks(ctx context.Context, o options) ([]progress.Sink, error) {
	out := []progress.Sink{sinks.NewLogSink(a.Logger.Named("events"))}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	out = append(out, promSink)

	blobs := o.blobs
	if blobs == nil {
		if blobs, err = a.openBlobStore(ctx); err != nil {
			return nil, err
		}
	}
	if blobs != nil {
		out = append(out, sinks.NewBlobSink(blobs, a.Logger.Named("blobs"),
			sinks.WithPrefix(a.Config.Storage.Prefix),
			sinks.WithSaveHook(func(evt progress.Event, uri string) {
				a.Logger.Debug("document stored", zap.Int64("queue_item_id", evt.Item.ID), zap.String("uri", uri))
			}),
		))
	}

	publisher := o.publisher
	if publisher == nil && a.Config.PubSub.Enabled() {
		p, err := pubsubpublisher.Dial(ctx, pubsubpublisher.Config{
			ProjectID: a.Config.PubSub.ProjectID,
			Topic:     a.Config.PubSub.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		publisher = p
	}
	if publisher != nil {
		out = append(out, sinks.NewPublishSink(publisher, a.Logger.Named("publish")))
	}
	return out, nil
}

func (a *App) openBlobStore(ctx context.Context) (sinks.BlobStore, error) {
	switch a.Config.Storage.Driver {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.Config.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil
	case config.StorageGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.Config.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case config.StorageNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.Config.Storage.Driver)
	}
}

// Close stops the browser, flushes pending events to the sinks, then releases
// storage, publisher, queue and tracing resources.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Client != nil {
		if err := a.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fetch client: %w", err))
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
