package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RodConfig configures the local headless Chrome backend.
type RodConfig struct {
	// ControlURL connects to an existing Chrome DevTools endpoint. Empty
	// launches a local headless Chrome.
	ControlURL string
	// Bin overrides the Chrome binary path.
	Bin string
	// IdleWait is how long the network must be quiet before the page is
	// considered loaded. Default: 500ms.
	IdleWait time.Duration
	// BlockMedia drops image, font and media requests.
	BlockMedia bool
}

// RodRenderer drives a local (or remote) Chrome through go-rod with stealth
// patches. Each Open gets its own incognito context.
type RodRenderer struct {
	cfg RodConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRodRenderer creates a RodRenderer. Chrome starts on first use.
func NewRodRenderer(cfg RodConfig) *RodRenderer {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	return &RodRenderer{cfg: cfg}
}

// Name implements Renderer.
func (r *RodRenderer) Name() string { return "rod" }

func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		if r.cfg.Bin != "" {
			l = l.Bin(r.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "rod: launch chrome")
		}
		wsURL = u
		r.lnch = l
		zap.L().Info("rod: launched local chrome", zap.String("control_url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, eris.Wrap(err, "rod: connect")
	}
	r.browser = b
	return b, nil
}

// Open implements Renderer.
func (r *RodRenderer) Open(ctx context.Context, rawURL string) (Session, error) {
	b, err := r.connect()
	if err != nil {
		return nil, err
	}

	inc, err := b.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "rod: incognito context")
	}
	page, err := stealth.Page(inc)
	if err != nil {
		_ = inc.Close()
		return nil, eris.Wrap(err, "rod: create page")
	}
	page = page.Context(ctx)

	var router *rod.HijackRouter
	if r.cfg.BlockMedia {
		router = page.HijackRequests()
		router.MustAdd("*", func(h *rod.Hijack) {
			switch h.Request.Type() {
			case proto.NetworkResourceTypeImage, proto.NetworkResourceTypeFont, proto.NetworkResourceTypeMedia:
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			default:
				h.ContinueRequest(&proto.FetchContinueRequest{})
			}
		})
		go router.Run()
	}

	waitIdle := page.WaitRequestIdle(r.cfg.IdleWait, nil, nil, nil)
	if err := page.Navigate(rawURL); err != nil {
		sess := &rodSession{page: page, incognito: inc, router: router}
		_ = sess.Close()
		return nil, eris.Wrapf(err, "rod: navigate %s", rawURL)
	}
	if err := page.WaitLoad(); err != nil {
		zap.L().Debug("rod: wait load", zap.String("url", rawURL), zap.Error(err))
	}
	waitIdle()

	return &rodSession{page: page, incognito: inc, router: router}, nil
}

// Close shuts down Chrome.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return err
}

type rodSession struct {
	page      *rod.Page
	incognito *rod.Browser
	router    *rod.HijackRouter
}

func (s *rodSession) Live() bool { return true }

func (s *rodSession) Snapshot(ctx context.Context) (*Snapshot, error) {
	p := s.page.Context(ctx)
	info, err := p.Info()
	if err != nil {
		return nil, eris.Wrap(err, "rod: page info")
	}
	html, err := p.HTML()
	if err != nil {
		return nil, eris.Wrap(err, "rod: page html")
	}
	res, err := p.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, eris.Wrap(err, "rod: page text")
	}
	return &Snapshot{
		Title:    info.Title,
		HTML:     html,
		Text:     res.Value.Str(),
		FinalURL: info.URL,
	}, nil
}

func (s *rodSession) Close() error {
	if s.router != nil {
		_ = s.router.Stop()
	}
	perr := s.page.Close()
	if err := s.incognito.Close(); err != nil {
		return err
	}
	return perr
}
