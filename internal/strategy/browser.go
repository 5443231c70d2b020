package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/resilience"
)

// Snapshot is the state of a rendered page at one moment.
type Snapshot struct {
	Title    string
	HTML     string
	Text     string
	FinalURL string
	// StatusCode is the main document status when the backend reports it.
	StatusCode int
	SiteName   string
	Published  string
}

// Session is one rendered page. Live sessions can be re-read while a
// challenge resolves; managed API sessions are a single capture.
type Session interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Live() bool
	Close() error
}

// Renderer loads a URL in a real browser engine.
type Renderer interface {
	Name() string
	Open(ctx context.Context, rawURL string) (Session, error)
}

// BrowserConfig tunes challenge handling.
type BrowserConfig struct {
	// ChallengeWait bounds how long a bot challenge may take to resolve.
	// Default: 15s.
	ChallengeWait time.Duration
	// PollInterval is the delay between challenge checks. Default: 1s.
	PollInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Clock        func() time.Time
}

func (c *BrowserConfig) defaults() {
	if c.ChallengeWait <= 0 {
		c.ChallengeWait = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Sleep == nil {
		c.Sleep = resilience.Sleep
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Browser renders the page through a Renderer and extracts the article.
type Browser struct {
	renderer  Renderer
	cfg       BrowserConfig
	extractor *extract.Extractor
}

// NewBrowser creates the browser strategy.
func NewBrowser(r Renderer, cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{renderer: r, cfg: cfg, extractor: extract.Default()}
}

// Name implements Strategy.
func (b *Browser) Name() string { return NameBrowser }

// Attempt implements Strategy.
func (b *Browser) Attempt(ctx context.Context, req Request) Outcome {
	sess, err := b.renderer.Open(ctx, req.URL)
	if err != nil {
		return FromError(ctx, b.renderer.Name()+" open", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			zap.L().Debug("browser: close session", zap.Error(cerr))
		}
	}()

	snap, outcome, ok := b.awaitContent(ctx, sess)
	if !ok {
		return outcome
	}

	if snap.StatusCode >= 400 {
		return Retry("%s: HTTP %d", b.renderer.Name(), snap.StatusCode)
	}
	return Accept(b.Name(), b.contentFrom(req, snap))
}

// awaitContent polls a live session until no challenge phrase remains or the
// challenge budget is spent.
func (b *Browser) awaitContent(ctx context.Context, sess Session) (*Snapshot, Outcome, bool) {
	deadline := b.cfg.Clock().Add(b.cfg.ChallengeWait)
	polls := 0
	for {
		snap, err := sess.Snapshot(ctx)
		if err != nil {
			return nil, FromError(ctx, b.renderer.Name()+" snapshot", err), false
		}
		if !IsChallenge(snap.Title, snap.Text) {
			if polls > 0 {
				zap.L().Debug("browser: challenge resolved", zap.Int("polls", polls))
			}
			return snap, Outcome{}, true
		}
		if !sess.Live() {
			return nil, Retry("%s: bot challenge page", b.renderer.Name()), false
		}
		if !b.cfg.Clock().Before(deadline) {
			return nil, Retry("bot challenge unresolved after %s", b.cfg.ChallengeWait), false
		}
		if err := b.cfg.Sleep(ctx, b.cfg.PollInterval); err != nil {
			return nil, FromError(ctx, "challenge wait", err), false
		}
		polls++
	}
}

func (b *Browser) contentFrom(req Request, snap *Snapshot) *model.Content {
	pageURL := snap.FinalURL
	if pageURL == "" {
		pageURL = req.URL
	}
	if snap.HTML != "" {
		if ex, ok := b.extractor.Extract([]byte(snap.HTML), pageURL); ok {
			c := fromExtracted(req, ex)
			if c.Title == "" {
				c.Title = snap.Title
			}
			return c
		}
	}

	c := &model.Content{
		URL:            req.URL,
		Classification: req.Classification,
		Title:          snap.Title,
		SiteName:       snap.SiteName,
		Text:           extract.Clean(snap.Text),
	}
	if t, ok := extract.ParseDate(snap.Published); ok {
		c.PublishedAt = &t
	}
	return c
}
