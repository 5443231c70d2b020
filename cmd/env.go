package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/digest-cli/internal/config"
	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/orchestrator"
	"github.com/sells-group/digest-cli/internal/pipeline"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/internal/sites"
	"github.com/sells-group/digest-cli/internal/store"
	"github.com/sells-group/digest-cli/internal/strategy"
	"github.com/sells-group/digest-cli/internal/summarize"
	anthropicpkg "github.com/sells-group/digest-cli/pkg/anthropic"
	"github.com/sells-group/digest-cli/pkg/factcheck"
	"github.com/sells-group/digest-cli/pkg/firecrawl"
	"github.com/sells-group/digest-cli/pkg/jina"
	"github.com/sells-group/digest-cli/pkg/newsapi"
)

// digestEnv holds everything the run, batch and serve commands share.
type digestEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Pipeline     *pipeline.Pipeline
	Batch        *pipeline.Batch

	closers []func() error
}

// Close releases the browser and the store.
func (e *digestEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv builds the store, the strategy set, the orchestrator and the
// pipeline from cfg. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config) (*digestEnv, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	env := &digestEnv{}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, st.Close)
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env.Store = st

	orch, closeBrowser, err := buildOrchestrator(c)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeBrowser != nil {
		env.closers = append(env.closers, closeBrowser)
	}
	env.Orchestrator = orch

	opts := []pipeline.Option{
		pipeline.WithStore(st),
		pipeline.WithMaxClaims(c.FactCheck.MaxClaims),
	}
	if sum := buildSummarizer(c); sum != nil {
		opts = append(opts, pipeline.WithSummarizer(sum))
	} else {
		zap.L().Debug("DIGEST_ANTHROPIC_KEY not set, summaries disabled")
	}
	if c.FactCheck.Key != "" {
		fc := factcheck.NewClient(c.FactCheck.Key,
			factcheck.WithBaseURL(c.FactCheck.BaseURL),
			factcheck.WithLanguage(c.FactCheck.Language),
		)
		opts = append(opts, pipeline.WithFactChecker(fc))
	}

	env.Pipeline = pipeline.New(orch, opts...)
	env.Batch = pipeline.NewBatch(env.Pipeline, c.Batch.Concurrency)

	zap.L().Info("digest environment ready",
		zap.String("store", c.Store.Driver),
		zap.Strings("strategies", orch.Registered()),
		zap.Bool("summarize", env.Pipeline.CanSummarize()),
		zap.Bool("fact_check", env.Pipeline.CanFactCheck()),
	)
	return env, nil
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DSN
		if dsn == "" {
			dsn = "digest.db"
		}
		return store.NewSQLite(dsn, c.MaxEntries)
	case "postgres":
		return store.NewPostgres(ctx, c.DSN, &store.PoolConfig{MaxConns: c.MaxConns, MinConns: c.MinConns}, c.MaxEntries)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// buildOrchestrator registers every configured strategy. The returned
// closer shuts down a local browser, if one was created.
func buildOrchestrator(c *config.Config) (*orchestrator.Orchestrator, func() error, error) {
	kb, err := sites.Load(c.Sites.Path)
	if err != nil {
		return nil, nil, err
	}

	strategies, closer := buildStrategies(c, newFetcher(c.Fetch, kb))
	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.CooldownSecs),
	)
	orch := orchestrator.New(orchestrator.Config{
		StrategyTimeout: c.Orchestrator.StrategyTimeout(),
		Timeouts:        c.Orchestrator.Timeouts(),
		URLTimeout:      c.Orchestrator.URLTimeout(),
	}, breakers, kb, strategies...)
	return orch, closer, nil
}

// newFetcher builds the shared HTTP fetcher. Domains the knowledge base
// gives a request rate are paced at that rate.
func newFetcher(c config.FetchConfig, kb *sites.KnowledgeBase) *fetcher.HTTPFetcher {
	limiter := fetcher.NewHostLimiter(rate.Limit(c.PerHostRate), c.PerHostBurst)
	for _, h := range kb.All() {
		if h.RatePerSec > 0 {
			limiter.SetRate(h.Pattern, rate.Limit(h.RatePerSec))
		}
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.UserAgent,
		Timeout:      time.Duration(c.TimeoutSecs) * time.Second,
		MaxRetries:   c.MaxRetries,
		MaxBodyBytes: int64(c.MaxBodyMB) << 20,
		Limiter:      limiter,
	})
}

func buildStrategies(c *config.Config, f fetcher.Fetcher) ([]strategy.Strategy, func() error) {
	out := []strategy.Strategy{
		strategy.NewDirectFetch(f, strategy.WithEDGARUserAgent(c.Fetch.EDGARUserAgent)),
	}

	if c.Syndication.Enabled {
		out = append(out, strategy.NewSyndication(f, c.Syndication.Endpoint))
	}
	if c.Feed.Enabled {
		out = append(out, strategy.NewFeed(f, c.Feed.MinScore))
	}
	if c.Archive.Enabled {
		out = append(out, strategy.NewArchive(f, strategy.ArchiveConfig{
			Mirrors: c.Archive.Mirrors,
			Rounds:  c.Archive.Rounds,
		}))
	}
	if c.SearchCache.Enabled {
		out = append(out, strategy.NewSearchCache(f, c.SearchCache.Endpoint))
	}
	if c.NewsIndex.Key != "" {
		client := newsapi.NewClient(c.NewsIndex.Key, newsapi.WithBaseURL(c.NewsIndex.BaseURL))
		out = append(out, strategy.NewNewsIndex(client))
	}

	renderer, closer := buildRenderer(c)
	if renderer != nil {
		out = append(out, strategy.NewBrowser(renderer, strategy.BrowserConfig{
			ChallengeWait: time.Duration(c.Browser.ChallengeWaitSecs) * time.Second,
		}))
	}
	return out, closer
}

func buildRenderer(c *config.Config) (strategy.Renderer, func() error) {
	timeout := c.Orchestrator.StrategyTimeout()
	switch c.Browser.Backend {
	case "rod":
		r := strategy.NewRodRenderer(strategy.RodConfig{
			ControlURL: c.Browser.ControlURL,
			Bin:        c.Browser.Bin,
			IdleWait:   time.Duration(c.Browser.IdleWaitMs) * time.Millisecond,
			BlockMedia: c.Browser.BlockMedia,
		})
		return r, r.Close
	case "firecrawl":
		client := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		return strategy.NewFirecrawlRenderer(client, time.Duration(c.Browser.WaitForMs)*time.Millisecond, timeout), nil
	case "jina":
		client := jina.NewClient(c.Jina.Key, jina.WithBaseURL(c.Jina.BaseURL))
		return strategy.NewJinaRenderer(client, timeout), nil
	default:
		return nil, nil
	}
}

func buildSummarizer(c *config.Config) *summarize.Summarizer {
	if c.Anthropic.Key == "" {
		return nil
	}
	var opts []anthropicpkg.Option
	if c.Anthropic.BaseURL != "" {
		opts = append(opts, anthropicpkg.WithBaseURL(c.Anthropic.BaseURL))
	}
	// Retries are driven by the summarizer so they share its limiter.
	opts = append(opts, anthropicpkg.WithMaxRetries(0))

	r := c.Retry
	return summarize.New(anthropicpkg.NewClient(c.Anthropic.Key, opts...), summarize.Config{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.Anthropic.MaxTokens,
		MaxInputChars:     c.Anthropic.MaxInputChars,
		RequestsPerMinute: c.Anthropic.RequestsPerMinute,
		CacheTTL:          c.Anthropic.CacheTTL,
		Retry:             resilience.NewRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction),
	})
}
