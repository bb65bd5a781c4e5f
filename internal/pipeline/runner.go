package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/filingwatch/pkg/models"
)

// Runner runs many units. Different entities proceed concurrently; the
// units of one entity run one at a time in increasing period order.
type Runner struct {
	pipeline    *Pipeline
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner processing up to concurrency entities at once.
func NewRunner(p *Pipeline, concurrency int, logger *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pipeline: p, concurrency: concurrency, logger: logger.Named("runner")}
}

// Summary counts outcomes by status.
type Summary map[models.JobStatus]int

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := make(Summary)
	for _, o := range outcomes {
		s[o.Status]++
	}
	return s
}

// RunAll processes units and returns one outcome per unit in input order.
// Unit failures are reported in the outcomes; the error is non-nil only
// when ctx ends the run early. Units not started because of cancellation
// are left out of the tracker and reported failed with the context error.
func (r *Runner) RunAll(ctx context.Context, units []Unit) ([]Outcome, error) {
	outcomes := make([]Outcome, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, group := range groupByEntity(units) {
		group := group
		g.Go(func() error {
			for _, iu := range group {
				if err := gctx.Err(); err != nil {
					outcomes[iu.index] = Outcome{Unit: iu.unit, Status: models.JobFailed, Err: err}
					continue
				}
				out, err := r.pipeline.Run(gctx, iu.unit)
				outcomes[iu.index] = *out
				outcomes[iu.index].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(outcomes)
	r.logger.Info("run complete",
		zap.Int("units", len(units)),
		zap.Int("succeeded", s[models.JobSucceeded]),
		zap.Int("skipped", s[models.JobSkipped]),
		zap.Int("failed", s[models.JobFailed]))
	return outcomes, ctx.Err()
}
