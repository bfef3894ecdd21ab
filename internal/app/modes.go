package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagerforge/wagerd/internal/archive"
	"github.com/wagerforge/wagerd/internal/engine"
	"github.com/wagerforge/wagerd/internal/fees"
	"github.com/wagerforge/wagerd/internal/server"
	"github.com/wagerforge/wagerd/internal/server/handler"
	"github.com/wagerforge/wagerd/internal/server/ws"
	"github.com/wagerforge/wagerd/internal/stats"
	"github.com/wagerforge/wagerd/internal/sweep"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// buildEngine assembles the settlement engine from the wired dependencies.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	return engine.New(engine.Deps{
		Wagers:   deps.Wagers,
		Users:    deps.Users,
		Stats:    stats.NewAccumulator(deps.UserStats, a.logger),
		Executor: deps.Executor,
		Quotes:   deps.Quotes,
		Results:  deps.Results,
		Fees:     fees.NewCalculator(a.cfg.Fees.PlatformFeeBps, a.cfg.Fees.NetworkFee),
		Recorder: deps.Recorder,
		Notifier: deps.Notifier,
		Signals:  deps.SignalBus,
		Metrics:  deps.Metrics,
		Logger:   a.logger,
	})
}

// ServerMode runs only the HTTP/WebSocket API. Settlement still happens for
// requests arriving over HTTP, but no background sweeps run; pair this with a
// worker-mode instance.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps)
	a.startHTTPServer(ctx, g, deps, eng)

	return g.Wait()
}

// WorkerMode runs the background settlement jobs only: the coarse expiration
// sweep, the fine pre-deadline sweep, and (when enabled) the cold-storage
// archiver. No HTTP surface is exposed.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	eng := a.buildEngine(deps)
	orch := sweep.NewOrchestrator(a.logger, a.buildJobs(deps, eng)...)
	return orch.Run(ctx)
}

// FullMode runs the HTTP/WebSocket API and the background jobs in one
// process. This is the default deployment shape.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	orch := sweep.NewOrchestrator(a.logger, a.buildJobs(deps, eng)...)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// buildJobs assembles the background jobs for the orchestrator: both sweeps
// plus the archiver when it is enabled and object storage is wired.
func (a *App) buildJobs(deps *Dependencies, eng *engine.Engine) []sweep.Job {
	jobs := []sweep.Job{
		sweep.NewCoarseSweeper(
			eng,
			a.cfg.Sweep.CoarseInterval.Duration,
			a.cfg.Sweep.Batch,
			deps.Metrics,
			a.logger,
		),
		sweep.NewFineSweeper(
			deps.Wagers,
			eng,
			deps.LockManager,
			a.cfg.Sweep.FineInterval.Duration,
			a.cfg.Sweep.FineWindow.Duration,
			deps.Metrics,
			a.logger,
		),
	}

	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		jobs = append(jobs, archive.New(
			deps.Wagers,
			deps.BlobWriter,
			retention,
			a.cfg.Archive.Batch,
			a.cfg.Archive.Schedule,
			a.logger,
		))
	}

	return jobs
}

// startHTTPServer builds the handlers, WebSocket hub, and HTTP server and
// registers them on the errgroup. The server shuts down gracefully when the
// group context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Status: handler.NewStatusHandler(deps.Wagers, a.cfg.Mode, a.logger),
			Wagers: handler.NewWagerHandler(eng, a.logger),
			Sweeps: handler.NewSweepHandler(eng, a.cfg.Sweep.Batch, a.logger),
		},
		hub,
		deps.MetricsHandler,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
