package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/headless-fetch/internal/app"
	"github.com/JakeFAU/headless-fetch/internal/progress"
	"github.com/JakeFAU/headless-fetch/internal/progress/sinks"
)

func newFetchCmd() *cobra.Command {
	var (
		asJSON      bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch the given URLs once and print each outcome",
		Long: `Enqueues every URL on the configured queue, fetches until the queue is
drained, and prints one line per finished fetch cycle.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if concurrency > 0 {
				e.cfg.Crawler.MaxConcurrency = concurrency
			}
			return runFetch(cmd.Context(), e, args, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON lines")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override crawler.max_concurrency")
	return cmd
}

func runFetch(ctx context.Context, e *env, urls []string, out io.Writer, asJSON bool) (err error) {
	printer := &outcomePrinter{out: out, json: asJSON}
	a, err := newApp(ctx, e.cfg, e.logger, app.WithListener(printer.print))
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			e.logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	for _, u := range urls {
		if _, err := a.Queue.Add(ctx, u); err != nil {
			return fmt.Errorf("enqueue %s: %w", u, err)
		}
	}
	if err := a.Dispatcher.Drain(ctx); err != nil {
		return err
	}
	if failed := printer.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d fetches did not complete", failed, printer.Finished())
	}
	return nil
}

// outcomePrinter writes one line per terminal or queue error event and
// tracks which items ended without a document.
type outcomePrinter struct {
	mu       sync.Mutex
	out      io.Writer
	json     bool
	finished map[int64]bool
	failed   map[int64]bool
}

func (p *outcomePrinter) print(evt progress.Event) {
	if !evt.Kind.Terminal() && evt.Kind != progress.KindQueueError {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished == nil {
		p.finished = make(map[int64]bool)
		p.failed = make(map[int64]bool)
	}
	p.finished[evt.Item.ID] = true
	if evt.Kind != progress.KindFetchComplete {
		p.failed[evt.Item.ID] = true
	}
	outcome := sinks.NewOutcome(evt)
	if p.json {
		_ = json.NewEncoder(p.out).Encode(outcome)
		return
	}
	line := fmt.Sprintf("%-16s %s", evt.Kind, evt.Item.URL)
	switch evt.Kind {
	case progress.KindFetchComplete:
		line += fmt.Sprintf(" status=%d bytes=%d", outcome.Code, outcome.BodyBytes)
	case progress.KindFetchTimeout:
		line += fmt.Sprintf(" after=%s", evt.Timeout)
	default:
		line += fmt.Sprintf(" error=%q", evt.ErrorText())
	}
	_, _ = fmt.Fprintln(p.out, line)
}

func (p *outcomePrinter) Finished() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.finished)
}

func (p *outcomePrinter) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failed)
}
