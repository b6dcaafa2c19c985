// Package dispatcher claims queued items and runs fetch cycles for them with
// bounded concurrency and per-host pacing.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
)

const (
	defaultMaxConcurrency = 4
	defaultPollInterval   = 500 * time.Millisecond
)

// Claimer hands out queued items one at a time.
type Claimer interface {
	Claim(ctx context.Context) (crawler.QueueItem, error)
}

// Fetcher runs one fetch cycle. It reports outcomes through events, not a
// return value.
type Fetcher interface {
	Fetch(ctx context.Context, item crawler.QueueItem)
}

// Pacer delays fetches per host.
type Pacer interface {
	Wait(ctx context.Context, host string) error
}

// OpenCounter reports how many navigation requests are outstanding.
type OpenCounter interface {
	Len() int
}

// Config controls dispatcher fan-out.
type Config struct {
	MaxConcurrency int
	PollInterval   time.Duration
}

// Dispatcher fans queued items out to the fetcher.
type Dispatcher struct {
	queue   Claimer
	fetcher Fetcher
	pacer   Pacer
	open    OpenCounter
	cfg     Config
	logger  *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithOpenRequests holds back new claims while open has MaxConcurrency or
// more outstanding requests.
func WithOpenRequests(open OpenCounter) Option {
	return func(d *Dispatcher) {
		d.open = open
	}
}

// New creates a Dispatcher. pacer may be nil.
func New(queue Claimer, fetcher Fetcher, pacer Pacer, cfg Config, logger *zap.Logger, opts ...Option) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:   queue,
		fetcher: fetcher,
		pacer:   pacer,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run claims and fetches items until ctx is done, polling while the queue is
// empty. In-flight cycles are awaited before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	d.loop(ctx, false)
}

// Drain fetches until the queue is empty and every started cycle has
// finished. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.loop(ctx, true)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, drain bool) {
	var g errgroup.Group
	g.SetLimit(d.cfg.MaxConcurrency)
	defer func() { _ = g.Wait() }()

	// settled is set once every started cycle finished after an empty claim.
	settled := false
	for ctx.Err() == nil {
		if d.saturated() {
			d.sleep(ctx)
			continue
		}
		item, err := d.queue.Claim(ctx)
		switch {
		case err == nil:
			settled = false
			g.Go(func() error {
				d.run(ctx, item)
				return nil
			})
		case errors.Is(err, crawler.ErrQueueEmpty):
			if !drain {
				d.sleep(ctx)
				continue
			}
			if settled {
				return
			}
			_ = g.Wait()
			settled = true
		default:
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("queue claim failed", zap.Error(err))
			d.sleep(ctx)
		}
	}
}

func (d *Dispatcher) saturated() bool {
	return d.open != nil && d.open.Len() >= d.cfg.MaxConcurrency
}

func (d *Dispatcher) run(ctx context.Context, item crawler.QueueItem) {
	if d.pacer != nil {
		if err := d.pacer.Wait(ctx, item.Host); err != nil {
			d.logger.Warn("skipping claimed item",
				zap.Int64("queue_item_id", item.ID),
				zap.String("url", item.URL),
				zap.Error(err),
			)
			return
		}
	}
	d.logger.Debug("dispatching fetch", zap.Int64("queue_item_id", item.ID), zap.String("url", item.URL))
	d.fetcher.Fetch(ctx, item)
}

func (d *Dispatcher) sleep(ctx context.Context) {
	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
