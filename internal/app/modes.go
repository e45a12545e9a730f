package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
	"github.com/alanyoungcy/propengine/internal/feed"
	"github.com/alanyoungcy/propengine/internal/observability"
	"github.com/alanyoungcy/propengine/internal/server"
	"github.com/alanyoungcy/propengine/internal/server/handler"
	"github.com/alanyoungcy/propengine/internal/server/ws"
	"github.com/alanyoungcy/propengine/internal/service"
)

// ServerMode serves the HTTP and WebSocket API, follows the quote bus when
// Redis is enabled, reads the configured WebSocket quote feeds and runs the
// periodic export and archive jobs.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.logger)
	svc := newService(a.cfg, deps, hub, a.logger)

	if a.cfg.Snapshot.RestoreOnStart {
		a.restoreLatest(ctx, svc, deps)
	}

	g.Go(func() error {
		return hub.Run(ctx)
	})

	if deps.Bus != nil {
		feeder := feed.NewBusFeeder(deps.Bus, ingestSink(svc), a.logger)
		g.Go(func() error {
			return feeder.Run(ctx)
		})
	}

	for _, url := range a.cfg.Feed.WSURLs {
		wsFeed := feed.NewWSFeed(url, a.cfg.Feed.Symbols, ingestSink(svc), a.logger)
		g.Go(func() error {
			return wsFeed.Run(ctx)
		})
	}

	if deps.Exporter != nil && a.cfg.Snapshot.ExportInterval.Duration > 0 {
		g.Go(func() error {
			return a.every(ctx, a.cfg.Snapshot.ExportInterval.Duration, func() {
				paths, err := svc.ExportAll(ctx)
				if err != nil {
					a.logger.ErrorContext(ctx, "export: failed", slog.String("error", err.Error()))
				}
				if len(paths) > 0 {
					a.logger.InfoContext(ctx, "export: wrote snapshots", slog.Int("count", len(paths)))
				}
			})
		})
	}

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return a.every(ctx, a.cfg.Archive.Interval.Duration, func() {
				n, err := deps.Archiver.ArchiveSummaries(ctx, time.Now().UTC().Add(-retention))
				if err != nil {
					a.logger.ErrorContext(ctx, "archive: failed", slog.String("error", err.Error()))
					return
				}
				a.logger.InfoContext(ctx, "archive: summaries archived", slog.Int("count", n))
			})
		})
	}

	a.startHTTPServer(ctx, g, deps, svc, hub)

	return g.Wait()
}

// ReplayMode ingests a JSONL quote file and exports the result once.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("input", a.opts.Input))

	var r io.Reader = os.Stdin
	if a.opts.Input != "" && a.opts.Input != "-" {
		f, err := os.Open(a.opts.Input)
		if err != nil {
			return fmt.Errorf("replay mode: %w", err)
		}
		defer f.Close()
		r = f
	}

	svc := newService(a.cfg, deps, nil, a.logger)
	var rejected int
	sink := func(ctx context.Context, snap domain.MarketSnapshot) error {
		_, err := svc.Ingest(ctx, snap)
		if errors.Is(err, domain.ErrInvalidQuote) {
			rejected++
			a.logger.WarnContext(ctx, "replay: quote rejected",
				slog.String("exchange", snap.ExchangeID),
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	}

	n, err := feed.Replay(ctx, r, sink)
	if err != nil {
		return fmt.Errorf("replay mode: after %d snapshots: %w", n, err)
	}
	a.logger.InfoContext(ctx, "replay: done",
		slog.Int("snapshots", n),
		slog.Int("rejected", rejected),
		slog.Any("exchanges", svc.Exchanges()),
	)

	if deps.Exporter == nil {
		return nil
	}
	paths, err := svc.ExportAll(ctx)
	for _, p := range paths {
		a.logger.InfoContext(ctx, "replay: exported", slog.String("path", p))
	}
	if err != nil {
		return fmt.Errorf("replay mode: export: %w", err)
	}
	return nil
}

// VerifyMode loads one export into a scratch engine. Any verification or
// restore error is returned, which makes the process exit non-zero.
func (a *App) VerifyMode(ctx context.Context, deps *Dependencies) error {
	if deps.Loader == nil {
		return fmt.Errorf("verify mode: snapshot backend %q cannot load exports", a.cfg.Snapshot.Backend)
	}
	if a.opts.Snapshot == "" {
		return fmt.Errorf("verify mode: -snapshot is required")
	}

	scratch := engine.New(engineConfig(a.cfg.Engine), a.logger)
	st, err := deps.Loader.LoadInto(ctx, a.opts.Snapshot, scratch)
	if err != nil {
		return fmt.Errorf("verify mode: %w", err)
	}
	a.logger.InfoContext(ctx, "verify: snapshot ok",
		slog.String("path", a.opts.Snapshot),
		slog.String("exchange", st.ExchangeID),
		slog.Time("exported_at", st.ExportedAt),
		slog.Int("nodes", scratch.Len()),
		slog.Int("markets", len(st.Markets)),
	)
	return nil
}

// restoreLatest restores the newest export of every configured exchange. A
// missing or rejected export is logged and the exchange starts empty.
func (a *App) restoreLatest(ctx context.Context, svc *service.HierarchyService, deps *Dependencies) {
	if deps.Loader == nil {
		a.logger.WarnContext(ctx, "restore: no snapshot backend, skipping")
		return
	}
	for _, ex := range a.cfg.Snapshot.Exchanges {
		p, err := deps.Loader.Latest(ctx, ex)
		if err != nil {
			a.logger.WarnContext(ctx, "restore: no export",
				slog.String("exchange", ex),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := svc.Restore(ctx, p); err != nil {
			a.logger.ErrorContext(ctx, "restore: failed",
				slog.String("exchange", ex),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// startHTTPServer registers the REST handlers, /metrics and the WebSocket hub
// and runs the server until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.HierarchyService, hub *ws.Hub) {
	var summaries domain.SummaryStore
	if deps.Summaries != nil {
		summaries = deps.Summaries
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Markets:   handler.NewMarketHandler(svc, a.logger),
		Nodes:     handler.NewNodeHandler(svc, a.logger),
		Metrics:   handler.NewMetricsHandler(svc, a.logger),
		Summaries: handler.NewSummaryHandler(summaries, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, observability.NewRegistry(svc), a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// every runs fn on each tick of interval until ctx is cancelled.
func (a *App) every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// ingestSink adapts the service to a feed sink.
func ingestSink(svc *service.HierarchyService) feed.Sink {
	return func(ctx context.Context, snap domain.MarketSnapshot) error {
		_, err := svc.Ingest(ctx, snap)
		return err
	}
}
