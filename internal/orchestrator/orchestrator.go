// Package orchestrator runs the ordered fallback chain of extraction
// strategies for a URL, gated by per-strategy circuit breakers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/classify"
	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/internal/sites"
	"github.com/sells-group/digest-cli/internal/strategy"
)

// DefaultStrategyTimeout bounds a single strategy attempt.
const DefaultStrategyTimeout = 30 * time.Second

// Config controls orchestration timeouts.
type Config struct {
	// StrategyTimeout applies to every strategy without an override.
	StrategyTimeout time.Duration
	// Timeouts overrides StrategyTimeout per strategy name.
	Timeouts map[string]time.Duration
	// URLTimeout bounds the whole chain for one URL. Zero means no limit
	// beyond the caller's context.
	URLTimeout time.Duration
	// Clock measures attempt durations. Defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator walks a classification-specific plan of strategies until one
// yields validated content. It is safe for concurrent use; breaker state is
// shared across all URLs it processes.
type Orchestrator struct {
	cfg        Config
	strategies map[string]strategy.Strategy
	breakers   *resilience.ServiceBreakers
	kb         *sites.KnowledgeBase
}

// New creates an orchestrator. A nil breakers or kb gets a default one.
func New(cfg Config, breakers *resilience.ServiceBreakers, kb *sites.KnowledgeBase, strategies ...strategy.Strategy) *Orchestrator {
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = DefaultStrategyTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	if kb == nil {
		kb = sites.New()
	}
	reg := make(map[string]strategy.Strategy, len(strategies))
	for _, s := range strategies {
		reg[s.Name()] = s
	}
	return &Orchestrator{cfg: cfg, strategies: reg, breakers: breakers, kb: kb}
}

// Registered returns the names of registered strategies, sorted.
func (o *Orchestrator) Registered() []string {
	names := make([]string, 0, len(o.strategies))
	for n := range o.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Breakers exposes the shared breaker registry.
func (o *Orchestrator) Breakers() *resilience.ServiceBreakers {
	return o.breakers
}

// Plan resolves the route for a URL without running anything. Strategies
// that are not registered are left out.
func (o *Orchestrator) Plan(rawURL string) (*Plan, error) {
	u, err := classify.Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	class, rule := classify.Explain(u)
	p := &Plan{URL: u, Classification: class, Rule: rule}
	if hint, ok := o.kb.Lookup(classify.Host(u)); ok {
		p.Hint = &hint
	}
	for _, name := range BuildPlan(class, p.Hint) {
		if _, ok := o.strategies[name]; ok {
			p.Strategies = append(p.Strategies, name)
		}
	}
	return p, nil
}

// Process extracts content for rawURL. See ProcessTrace.
func (o *Orchestrator) Process(ctx context.Context, rawURL string) (*model.Content, error) {
	c, _, err := o.ProcessTrace(ctx, rawURL)
	return c, err
}

// ProcessTrace extracts content for rawURL and returns every attempt made,
// in order. On failure the error is an *ExtractionFailed, or wraps
// ErrInvalidURL when the URL never reached a strategy.
func (o *Orchestrator) ProcessTrace(ctx context.Context, rawURL string) (*model.Content, []model.Attempt, error) {
	plan, err := o.Plan(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if o.cfg.URLTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.URLTimeout)
		defer cancel()
	}

	log := zap.L().With(
		zap.String("url", plan.URL),
		zap.String("classification", string(plan.Classification)),
	)
	log.Debug("orchestrator: plan", zap.Strings("strategies", plan.Strategies))

	req := strategy.Request{
		URL:            plan.URL,
		Classification: plan.Classification,
		Hint:           plan.Hint,
	}
	if plan.Hint != nil {
		req.FeedURL = plan.Hint.FeedURL
	}
	if id, ok := classify.TweetID(plan.URL); ok {
		req.TweetID = id
	}

	var attempts []model.Attempt
	skipped := false
	fail := func(kind model.FailureKind) (*model.Content, []model.Attempt, error) {
		return nil, attempts, &ExtractionFailed{URL: plan.URL, Kind: kind, Attempts: attempts}
	}

	for i, name := range plan.Strategies {
		if ctx.Err() != nil {
			return fail(ctxFailure(ctx))
		}
		if !o.breakers.Allow(name) {
			skipped = true
			attempts = append(attempts, model.Attempt{
				Strategy: name,
				Kind:     model.FailureCircuitOpenSkip,
				Reason:   "circuit open",
			})
			log.Debug("orchestrator: skipping strategy, circuit open", zap.String("strategy", name))
			continue
		}

		req.Timeout = o.timeoutFor(name)
		start := o.cfg.Clock()
		out := o.attempt(ctx, o.strategies[name], req)
		elapsed := o.cfg.Clock().Sub(start)

		if out.Kind == strategy.Success {
			if err := strategy.Validate(out.Content); err != nil {
				out = strategy.Retry("%s", err.Error())
			}
		}

		switch out.Kind {
		case strategy.Success:
			o.breakers.RecordSuccess(name)
			attempts = append(attempts, model.Attempt{Strategy: name, Duration: elapsed})
			c := out.Content
			c.URL = plan.URL
			c.Classification = plan.Classification
			c.ExtractionMethod = name
			c.FallbackUsed = i > 0 || skipped
			log.Info("orchestrator: extracted",
				zap.String("strategy", name),
				zap.Bool("fallback_used", c.FallbackUsed),
				zap.Int("words", c.WordCount),
				zap.Duration("elapsed", elapsed),
			)
			return c, attempts, nil

		case strategy.Aborted:
			o.breakers.Release(name)
			attempts = append(attempts, model.Attempt{Strategy: name, Kind: out.Failure, Reason: out.Reason, Duration: elapsed})
			log.Warn("orchestrator: fatal outcome, aborting chain",
				zap.String("strategy", name),
				zap.String("reason", out.Reason),
			)
			kind := out.Failure
			if kind == model.FailureNone {
				kind = model.FailureInternal
			}
			return fail(kind)

		default:
			if ctx.Err() != nil {
				// The caller gave up or the URL budget ran out; this says
				// nothing about the strategy.
				o.breakers.Release(name)
				kind := ctxFailure(ctx)
				attempts = append(attempts, model.Attempt{Strategy: name, Kind: kind, Reason: ctx.Err().Error(), Duration: elapsed})
				return fail(kind)
			}
			o.breakers.RecordFailure(name)
			kind := out.Failure
			if kind == model.FailureNone {
				kind = model.FailureStrategyRejected
			}
			attempts = append(attempts, model.Attempt{Strategy: name, Kind: kind, Reason: out.Reason, Duration: elapsed})
			log.Info("orchestrator: strategy failed",
				zap.String("strategy", name),
				zap.String("kind", string(kind)),
				zap.String("reason", out.Reason),
				zap.Duration("elapsed", elapsed),
			)
		}
	}

	return fail(model.FailureExhausted)
}

// attempt runs one strategy under its own deadline. A panic inside the
// strategy becomes a retryable internal failure.
func (o *Orchestrator) attempt(ctx context.Context, s strategy.Strategy, req strategy.Request) (out strategy.Outcome) {
	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("orchestrator: strategy panicked",
				zap.String("strategy", s.Name()),
				zap.Any("panic", r),
			)
			out = strategy.Outcome{
				Kind:    strategy.Retryable,
				Failure: model.FailureInternal,
				Reason:  fmt.Sprintf("panic: %v", r),
				Err:     eris.Errorf("strategy %s panicked: %v", s.Name(), r),
			}
		}
	}()

	out = s.Attempt(actx, req)
	if out.Kind != strategy.Success && isDeadline(actx) && ctx.Err() == nil {
		// The per-strategy deadline fired; report it as a timeout whatever
		// error surfaced.
		out.Kind = strategy.Retryable
		out.Failure = model.FailureStrategyTimeout
		if out.Reason == "" {
			out.Reason = "timed out"
		}
		out.Reason = fmt.Sprintf("%s after %s", out.Reason, req.Timeout)
	}
	return out
}

func (o *Orchestrator) timeoutFor(name string) time.Duration {
	if d, ok := o.cfg.Timeouts[name]; ok && d > 0 {
		return d
	}
	return o.cfg.StrategyTimeout
}

func isDeadline(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func ctxFailure(ctx context.Context) model.FailureKind {
	if isDeadline(ctx) {
		return model.FailureStrategyTimeout
	}
	return model.FailureCanceled
}

// Explain returns a human readable description of the plan for rawURL.
func (o *Orchestrator) Explain(rawURL string) (string, error) {
	p, err := o.Plan(rawURL)
	if err != nil {
		return "", err
	}
	s := fmt.Sprintf("%s -> %s (rule %s)", p.URL, p.Classification, p.Rule)
	if p.Hint != nil {
		s += fmt.Sprintf(", site hint %s", p.Hint.Pattern)
	}
	missing := slices.DeleteFunc(BuildPlan(p.Classification, p.Hint), func(n string) bool {
		_, ok := o.strategies[n]
		return ok
	})
	s += fmt.Sprintf(": %v", p.Strategies)
	if len(missing) > 0 {
		s += fmt.Sprintf(" (not configured: %v)", missing)
	}
	return s, nil
}
