// Package pipeline turns URLs into stored results: extraction through the
// orchestrator, then optional fact-checking and summarization.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/orchestrator"
	"github.com/sells-group/digest-cli/internal/store"
	"github.com/sells-group/digest-cli/pkg/factcheck"
)

// Extractor produces validated content for a URL along with every attempt
// made. *orchestrator.Orchestrator implements it.
type Extractor interface {
	ProcessTrace(ctx context.Context, rawURL string) (*model.Content, []model.Attempt, error)
}

// Summarizer produces a structured summary. *summarize.Summarizer
// implements it.
type Summarizer interface {
	Summarize(ctx context.Context, c *model.Content) (*model.Summary, error)
}

// Options selects the optional stages for one URL.
type Options struct {
	FactCheck bool
	Summarize bool
}

// Pipeline wires the extraction core to its collaborators. Summarizer, fact
// checker and store are optional.
type Pipeline struct {
	extractor  Extractor
	summarizer Summarizer
	factcheck  factcheck.Client
	store      store.Store
	maxClaims  int
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSummarizer enables the summarize stage.
func WithSummarizer(s Summarizer) Option { return func(p *Pipeline) { p.summarizer = s } }

// WithFactChecker enables the fact-check stage.
func WithFactChecker(c factcheck.Client) Option { return func(p *Pipeline) { p.factcheck = c } }

// WithStore persists every result to the history store.
func WithStore(s store.Store) Option { return func(p *Pipeline) { p.store = s } }

// WithMaxClaims bounds how many candidate claims are checked per URL.
func WithMaxClaims(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxClaims = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a Pipeline.
func New(ext Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: ext,
		maxClaims: DefaultMaxClaims,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CanSummarize reports whether a summarizer is configured.
func (p *Pipeline) CanSummarize() bool { return p.summarizer != nil }

// CanFactCheck reports whether a fact checker is configured.
func (p *Pipeline) CanFactCheck() bool { return p.factcheck != nil }

// Process runs one URL end to end and records it in history. It never
// panics and never returns an error: failures are reported in the Result.
func (p *Pipeline) Process(ctx context.Context, rawURL string, opts Options) model.Result {
	r := p.run(ctx, rawURL, opts)
	if p.store != nil {
		if err := p.store.Save(ctx, r); err != nil {
			zap.L().Warn("pipeline: save history failed", zap.String("url", r.URL), zap.Error(err))
		}
	}
	return r
}

// run processes a URL without persisting it.
func (p *Pipeline) run(ctx context.Context, rawURL string, opts Options) (r model.Result) {
	start := p.now()
	r = model.Result{
		ID:        uuid.New().String(),
		URL:       rawURL,
		CreatedAt: start.UTC(),
	}
	log := zap.L().With(zap.String("url", rawURL))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("pipeline: panic", zap.Any("panic", rec))
			r.Status = model.ResultFailed
			r.FailureKind = model.FailureInternal
			r.Error = fmt.Sprintf("panic: %v", rec)
		}
		r.Duration = p.now().Sub(start)
	}()

	fail := func(kind model.FailureKind, err error) model.Result {
		r.Status = model.ResultFailed
		r.FailureKind = kind
		r.Error = err.Error()
		log.Warn("pipeline: url failed", zap.String("kind", string(kind)), zap.Error(err))
		return r
	}

	content, attempts, err := p.extractor.ProcessTrace(ctx, rawURL)
	r.Attempts = attempts
	if err != nil {
		return fail(orchestrator.FailureKindOf(err), err)
	}
	r.URL = content.URL
	r.Content = content

	if opts.FactCheck && p.factcheck != nil {
		ratings, err := p.checkFacts(ctx, content)
		if err != nil {
			return fail(model.FailureFactCheck, err)
		}
		r.Ratings = ratings
	}

	if opts.Summarize && p.summarizer != nil {
		sum, err := p.summarizer.Summarize(ctx, content)
		if err != nil {
			return fail(model.FailureSummarization, err)
		}
		r.Summary = sum
	}

	r.Status = model.ResultSucceeded
	log.Info("pipeline: url complete",
		zap.String("method", content.ExtractionMethod),
		zap.Bool("fallback_used", content.FallbackUsed),
		zap.Int("ratings", len(r.Ratings)),
		zap.Bool("summarized", r.Summary != nil),
	)
	return r
}
