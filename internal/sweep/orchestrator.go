package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Job is a long-running background task driven by the orchestrator until its
// context is cancelled.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Orchestrator runs the background jobs (sweeps, archiver) as concurrent
// goroutines under one errgroup. If any job returns a non-context error, the
// shared context is cancelled and Run returns that error.
type Orchestrator struct {
	jobs   []Job
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator for the given jobs.
func NewOrchestrator(logger *slog.Logger, jobs ...Job) *Orchestrator {
	return &Orchestrator{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every job and blocks until all have stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range o.jobs {
		job := job
		g.Go(func() error {
			o.logger.Info("starting job", slog.String("job", job.Name()))
			err := job.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", job.Name(), err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
