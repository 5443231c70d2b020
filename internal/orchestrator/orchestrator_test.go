package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/internal/sites"
	"github.com/sells-group/digest-cli/internal/strategy"
)

type fakeStrategy struct {
	name string
	fn   func(ctx context.Context, req strategy.Request) strategy.Outcome

	mu    sync.Mutex
	calls int
	reqs  []strategy.Request
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Attempt(ctx context.Context, req strategy.Request) strategy.Outcome {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeed(name string) *fakeStrategy {
	return &fakeStrategy{name: name, fn: func(_ context.Context, req strategy.Request) strategy.Outcome {
		return strategy.Accept(name, &model.Content{
			URL:   req.URL,
			Title: "Headline",
			Text:  strings.Repeat("Extracted article text. ", 10),
		})
	}}
}

func reject(name, reason string) *fakeStrategy {
	return &fakeStrategy{name: name, fn: func(context.Context, strategy.Request) strategy.Outcome {
		return strategy.Retry("%s", reason)
	}}
}

func timeout(name string) *fakeStrategy {
	return &fakeStrategy{name: name, fn: func(context.Context, strategy.Request) strategy.Outcome {
		return strategy.TimedOut(context.DeadlineExceeded)
	}}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreakers(c *clock) *resilience.ServiceBreakers {
	return resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
		Clock:            c.Now,
	})
}

func TestProcess_FirstStrategySucceeds(t *testing.T) {
	t.Parallel()

	direct := succeed(strategy.NameDirectFetch)
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	c, attempts, err := o.ProcessTrace(context.Background(), "example.com/news/story/")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/news/story", c.URL)
	assert.Equal(t, model.ClassGenericArticle, c.Classification)
	assert.Equal(t, strategy.NameDirectFetch, c.ExtractionMethod)
	assert.False(t, c.FallbackUsed)
	assert.Len(t, attempts, 1)
	assert.Equal(t, 0, browser.Calls())
}

func TestProcess_BlockedFallsBackToBrowser(t *testing.T) {
	t.Parallel()

	direct := reject(strategy.NameDirectFetch, "HTTP 403")
	browser := succeed(strategy.NameBrowser)
	archive := succeed(strategy.NameArchive)
	o := New(Config{}, nil, sites.New(), direct, browser, archive)

	c, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
	assert.True(t, c.FallbackUsed)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.FailureStrategyRejected, attempts[0].Kind)
	assert.Equal(t, "HTTP 403", attempts[0].Reason)
	assert.Equal(t, 0, archive.Calls())
}

func TestProcess_CircuitOpensAfterThreeTimeouts(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	direct := timeout(strategy.NameDirectFetch)
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, newBreakers(clk), sites.New(), direct, browser)

	for i := 1; i <= 5; i++ {
		c, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/story-"+string(rune('0'+i)))
		require.NoError(t, err)
		assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
		assert.True(t, c.FallbackUsed)

		require.Len(t, attempts, 2)
		if i <= 3 {
			assert.Equal(t, model.FailureStrategyTimeout, attempts[0].Kind, "url %d", i)
		} else {
			assert.Equal(t, model.FailureCircuitOpenSkip, attempts[0].Kind, "url %d", i)
		}
	}

	assert.Equal(t, 3, direct.Calls())
	assert.Equal(t, 5, browser.Calls())
	assert.Equal(t, resilience.CircuitOpen, o.Breakers().Get(strategy.NameDirectFetch).State())
}

func TestProcess_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	healthy := false
	direct := &fakeStrategy{name: strategy.NameDirectFetch}
	direct.fn = func(ctx context.Context, req strategy.Request) strategy.Outcome {
		if !healthy {
			return strategy.TimedOut(context.DeadlineExceeded)
		}
		return succeed(strategy.NameDirectFetch).Attempt(ctx, req)
	}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, newBreakers(clk), sites.New(), direct, browser)

	for i := 0; i < 3; i++ {
		_, err := o.Process(context.Background(), "https://example.com/a")
		require.NoError(t, err)
	}
	require.Equal(t, resilience.CircuitOpen, o.Breakers().Get(strategy.NameDirectFetch).State())

	healthy = true
	clk.Advance(61 * time.Second)

	c, err := o.Process(context.Background(), "https://example.com/b")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameDirectFetch, c.ExtractionMethod)
	assert.False(t, c.FallbackUsed)
	assert.Equal(t, resilience.CircuitClosed, o.Breakers().Get(strategy.NameDirectFetch).State())
}

func TestProcess_FatalAbortsChain(t *testing.T) {
	t.Parallel()

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(context.Context, strategy.Request) strategy.Outcome {
		return strategy.Fatal(model.FailureInvalidURL, "host does not resolve")
	}}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	_, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.Error(t, err)

	var ef *ExtractionFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, model.FailureInvalidURL, ef.Kind)
	assert.Equal(t, model.FailureInvalidURL, FailureKindOf(err))
	assert.Len(t, attempts, 1)
	assert.Equal(t, 0, browser.Calls())

	failures, _ := o.Breakers().Get(strategy.NameDirectFetch).Counters()
	assert.Zero(t, failures)
}

func TestProcess_FatalReleasesHalfOpenProbe(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	breakers := newBreakers(clk)
	for i := 0; i < 3; i++ {
		breakers.RecordFailure(strategy.NameDirectFetch)
	}
	clk.Advance(61 * time.Second)

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(context.Context, strategy.Request) strategy.Outcome {
		return strategy.Fatal(model.FailureInternal, "boom")
	}}
	o := New(Config{}, breakers, sites.New(), direct)

	_, err := o.Process(context.Background(), "https://example.com/a")
	require.Error(t, err)

	// The probe slot is free again, so the next URL gets to try.
	_, err = o.Process(context.Background(), "https://example.com/b")
	require.Error(t, err)
	assert.Equal(t, 2, direct.Calls())
}

func TestProcess_AllExhausted(t *testing.T) {
	t.Parallel()

	o := New(Config{}, nil, sites.New(),
		reject(strategy.NameDirectFetch, "HTTP 403"),
		reject(strategy.NameBrowser, "bot challenge page"),
		reject(strategy.NameArchive, "not archived"),
		reject(strategy.NameSearchCache, "cache miss"),
	)

	_, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.Error(t, err)
	assert.Len(t, attempts, 4)

	var ef *ExtractionFailed
	require.True(t, errors.As(err, &ef))
	assert.Equal(t, model.FailureExhausted, ef.Kind)
	assert.Equal(t, []string{
		"direct_fetch: HTTP 403",
		"browser: bot challenge page",
		"archive: not archived",
		"search_cache: cache miss",
	}, ef.Reasons())
	assert.Contains(t, err.Error(), "all_strategies_exhausted")
}

func TestProcess_InvalidURL(t *testing.T) {
	t.Parallel()

	direct := succeed(strategy.NameDirectFetch)
	o := New(Config{}, nil, sites.New(), direct)

	for _, in := range []string{"", "ftp://example.com/x", "https://"} {
		_, err := o.Process(context.Background(), in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidURL), in)
		assert.Equal(t, model.FailureInvalidURL, FailureKindOf(err))
	}
	assert.Equal(t, 0, direct.Calls())
}

func TestProcess_ShortContentRejectedByGate(t *testing.T) {
	t.Parallel()

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(context.Context, strategy.Request) strategy.Outcome {
		return strategy.Succeeded(&model.Content{Text: "too short"})
	}}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	c, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
	assert.Equal(t, model.FailureStrategyRejected, attempts[0].Kind)
	assert.Contains(t, attempts[0].Reason, "content too short")
}

func TestProcess_PerStrategyTimeout(t *testing.T) {
	t.Parallel()

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(ctx context.Context, _ strategy.Request) strategy.Outcome {
		<-ctx.Done()
		return strategy.FromError(ctx, "get", ctx.Err())
	}}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{
		StrategyTimeout: time.Minute,
		Timeouts:        map[string]time.Duration{strategy.NameDirectFetch: 20 * time.Millisecond},
	}, nil, sites.New(), direct, browser)

	c, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
	assert.Equal(t, model.FailureStrategyTimeout, attempts[0].Kind)

	assert.Equal(t, 20*time.Millisecond, direct.reqs[0].Timeout)
	assert.Equal(t, time.Minute, browser.reqs[0].Timeout)

	failures, _ := o.Breakers().Get(strategy.NameDirectFetch).Counters()
	assert.Equal(t, 1, failures)
}

func TestProcess_CallerCancelRecordsNoFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(context.Context, strategy.Request) strategy.Outcome {
		cancel()
		return strategy.Retry("interrupted")
	}}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	_, err := o.Process(ctx, "https://example.com/a")
	require.Error(t, err)
	assert.Equal(t, model.FailureCanceled, FailureKindOf(err))
	assert.Equal(t, 0, browser.Calls())

	failures, _ := o.Breakers().Get(strategy.NameDirectFetch).Counters()
	assert.Zero(t, failures)
}

func TestProcess_PanicBecomesRetryable(t *testing.T) {
	t.Parallel()

	direct := &fakeStrategy{name: strategy.NameDirectFetch, fn: func(context.Context, strategy.Request) strategy.Outcome {
		panic("nil map")
	}}
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	c, attempts, err := o.ProcessTrace(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
	assert.Equal(t, model.FailureInternal, attempts[0].Kind)
	assert.Contains(t, attempts[0].Reason, "nil map")
}

func TestProcess_TweetRoutesToSyndication(t *testing.T) {
	t.Parallel()

	syn := succeed(strategy.NameSyndication)
	direct := succeed(strategy.NameDirectFetch)
	o := New(Config{}, nil, sites.New(), syn, direct, succeed(strategy.NameBrowser))

	c, err := o.Process(context.Background(), "https://x.com/someone/status/1234567890")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameSyndication, c.ExtractionMethod)
	assert.Equal(t, model.ClassTweet, c.Classification)
	require.Len(t, syn.reqs, 1)
	assert.Equal(t, "1234567890", syn.reqs[0].TweetID)
	assert.Equal(t, 0, direct.Calls())
}

func TestProcess_SiteHintShapesPlan(t *testing.T) {
	t.Parallel()

	kb := sites.New(model.SiteHint{
		Pattern:       "paper.example",
		FeedURL:       "https://paper.example/rss",
		PreferBrowser: true,
		Paywalled:     true,
	})
	feed := succeed(strategy.NameFeed)
	browser := reject(strategy.NameBrowser, "bot challenge page")
	o := New(Config{}, nil, kb, browser, feed, succeed(strategy.NameDirectFetch))

	c, attempts, err := o.ProcessTrace(context.Background(), "https://www.paper.example/2026/story")
	require.NoError(t, err)
	assert.Equal(t, strategy.NameFeed, c.ExtractionMethod)
	require.Len(t, attempts, 2)
	assert.Equal(t, strategy.NameBrowser, attempts[0].Strategy)

	require.Len(t, feed.reqs, 1)
	assert.Equal(t, "https://paper.example/rss", feed.reqs[0].FeedURL)
	require.NotNil(t, feed.reqs[0].Hint)
	assert.True(t, feed.reqs[0].Hint.Paywalled)
}

func TestPlan_DropsUnregistered(t *testing.T) {
	t.Parallel()

	o := New(Config{}, nil, sites.New(), succeed(strategy.NameDirectFetch), succeed(strategy.NameArchive))

	p, err := o.Plan("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, []string{strategy.NameDirectFetch, strategy.NameArchive}, p.Strategies)
	assert.Equal(t, "default", p.Rule)

	s, err := o.Explain("https://example.com/a")
	require.NoError(t, err)
	assert.Contains(t, s, "not configured: [browser search_cache]")

	assert.Equal(t, []string{strategy.NameArchive, strategy.NameDirectFetch}, o.Registered())
}

func TestProcess_ConcurrentURLsShareBreakers(t *testing.T) {
	t.Parallel()

	direct := timeout(strategy.NameDirectFetch)
	browser := succeed(strategy.NameBrowser)
	o := New(Config{}, nil, sites.New(), direct, browser)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := o.Process(context.Background(), "https://example.com/a")
			assert.NoError(t, err)
			if c != nil {
				assert.Equal(t, strategy.NameBrowser, c.ExtractionMethod)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, resilience.CircuitOpen, o.Breakers().Get(strategy.NameDirectFetch).State())
	assert.GreaterOrEqual(t, direct.Calls(), 3)
	assert.Equal(t, 20, browser.Calls())
}

func TestFailureKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.FailureNone, FailureKindOf(nil))
	assert.Equal(t, model.FailureCanceled, FailureKindOf(context.Canceled))
	assert.Equal(t, model.FailureStrategyTimeout, FailureKindOf(context.DeadlineExceeded))
	assert.Equal(t, model.FailureInternal, FailureKindOf(errors.New("x")))
	assert.Equal(t, model.FailureExhausted, FailureKindOf(&ExtractionFailed{Kind: model.FailureExhausted}))
}
