package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/digest-cli/internal/model"
)

// DefaultConcurrency is the batch fan-out when none is configured.
const DefaultConcurrency = 10

// ErrEmptyBatch is returned when a batch has no URLs.
var ErrEmptyBatch = eris.New("batch: no urls")

// Batch processes many URLs concurrently through one Pipeline.
type Batch struct {
	pipeline    *Pipeline
	concurrency int
}

// NewBatch creates a batch coordinator. concurrency <= 0 uses
// DefaultConcurrency.
func NewBatch(p *Pipeline, concurrency int) *Batch {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Batch{pipeline: p, concurrency: concurrency}
}

// ProcessBatch runs every URL and returns one Result per input, in input
// order. At most concurrency URLs are in flight. A failing or panicking URL
// becomes a Failed result; it never aborts the others. concurrency <= 0 uses
// the coordinator's default. The completed run is saved to history when the
// pipeline has a store.
func (b *Batch) ProcessBatch(ctx context.Context, name string, urls []string, concurrency int, opts Options) (*model.BatchRun, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyBatch
	}
	if concurrency <= 0 {
		concurrency = b.concurrency
	}
	p := b.pipeline

	run := &model.BatchRun{
		ID:        uuid.New().String(),
		Name:      name,
		Results:   make([]model.Result, len(urls)),
		StartedAt: p.now().UTC(),
	}
	if run.Name == "" {
		run.Name = "batch-" + run.StartedAt.Format("20060102-150405")
	}

	log := zap.L().With(zap.String("batch", run.ID), zap.String("name", run.Name))
	log.Info("batch: starting", zap.Int("urls", len(urls)), zap.Int("concurrency", concurrency))

	// The group context is never canceled by a task since tasks never
	// return errors; only the caller's ctx stops the batch.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var done atomic.Int64
	for i, u := range urls {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					run.Results[i] = model.Result{
						ID:          uuid.New().String(),
						URL:         u,
						Status:      model.ResultFailed,
						FailureKind: model.FailureInternal,
						Error:       fmt.Sprintf("panic: %v", rec),
						CreatedAt:   time.Now().UTC(),
					}
				}
				n := done.Add(1)
				log.Debug("batch: progress", zap.Int64("done", n), zap.Int("total", len(urls)))
			}()
			run.Results[i] = p.run(gctx, u, opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range run.Results {
		if r.Succeeded() {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}
	run.CompletedAt = p.now().UTC()

	log.Info("batch: complete",
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Duration("elapsed", run.CompletedAt.Sub(run.StartedAt)),
	)

	if p.store != nil {
		if err := p.store.SaveBatch(ctx, *run); err != nil {
			log.Warn("batch: save history failed", zap.Error(err))
		}
	}
	return run, nil
}
