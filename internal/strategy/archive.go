package strategy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/extract"
	"github.com/sells-group/digest-cli/internal/fetcher"
	"github.com/sells-group/digest-cli/internal/resilience"
)

// DefaultArchiveMirrors are the archive.today mirror hosts, tried in order.
var DefaultArchiveMirrors = []string{
	"https://archive.ph",
	"https://archive.today",
	"https://archive.is",
	"https://archive.li",
	"https://archive.vn",
	"https://archive.md",
}

// noSnapshotPhrases mark the archive's "nothing captured" page, which is
// served with a 200.
var noSnapshotPhrases = []string{
	"no results",
	"has not been archived",
	"not archived yet",
}

// ArchiveConfig configures the archive strategy.
type ArchiveConfig struct {
	Mirrors []string
	// Rounds is how many passes over the mirror set are made when every
	// mirror answers 429. Default: 2.
	Rounds int
	// Backoff paces rounds. MaxAttempts is ignored.
	Backoff resilience.RetryConfig
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Archive reads the newest archived capture of the URL from a public
// snapshot archive.
type Archive struct {
	fetcher   fetcher.Fetcher
	cfg       ArchiveConfig
	extractor *extract.Extractor
}

// NewArchive creates the archive strategy.
func NewArchive(f fetcher.Fetcher, cfg ArchiveConfig) *Archive {
	if len(cfg.Mirrors) == 0 {
		cfg.Mirrors = DefaultArchiveMirrors
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 2
	}
	if cfg.Backoff.InitialBackoff <= 0 {
		cfg.Backoff.InitialBackoff = 2 * time.Second
	}
	if cfg.Backoff.MaxBackoff <= 0 {
		cfg.Backoff.MaxBackoff = 30 * time.Second
	}
	if cfg.Backoff.JitterFraction == 0 {
		cfg.Backoff.JitterFraction = 0.2
	}
	if cfg.Sleep == nil {
		cfg.Sleep = resilience.Sleep
	}
	return &Archive{fetcher: f, cfg: cfg, extractor: extract.Default()}
}

// Name implements Strategy.
func (a *Archive) Name() string { return NameArchive }

// mirrorResult is what one mirror said in one round.
type mirrorResult struct {
	outcome   Outcome
	throttled bool
}

// Attempt implements Strategy. A 429 from one mirror moves on to the next.
// Only a round in which every mirror answered 429 triggers a backoff and
// another round.
func (a *Archive) Attempt(ctx context.Context, req Request) Outcome {
	var reasons []string
	for round := range a.cfg.Rounds {
		throttled := 0
		reasons = reasons[:0]
		for _, mirror := range a.cfg.Mirrors {
			res := a.tryMirror(ctx, mirror, req)
			if res.outcome.Kind == Success {
				return res.outcome
			}
			if ctx.Err() != nil {
				return FromError(ctx, "archive", ctx.Err())
			}
			if res.throttled {
				throttled++
			}
			reasons = append(reasons, mirrorHost(mirror)+": "+res.outcome.Reason)
		}

		if throttled < len(a.cfg.Mirrors) {
			break
		}
		if round == a.cfg.Rounds-1 {
			return Retry("all %d archive mirrors rate limited after %d rounds", len(a.cfg.Mirrors), a.cfg.Rounds)
		}
		d := resilience.Backoff(round, a.cfg.Backoff)
		zap.L().Warn("archive: every mirror returned 429, backing off",
			zap.Int("round", round+1),
			zap.Duration("delay", d),
		)
		if err := a.cfg.Sleep(ctx, d); err != nil {
			return FromError(ctx, "archive backoff", err)
		}
	}
	return Retry("no archived snapshot (%s)", strings.Join(reasons, "; "))
}

func (a *Archive) tryMirror(ctx context.Context, mirror string, req Request) mirrorResult {
	lookup := strings.TrimRight(mirror, "/") + "/newest/" + req.URL
	page, err := a.fetcher.Get(ctx, lookup, fetcher.NoRetry())
	if err != nil {
		return mirrorResult{outcome: FromError(ctx, "fetch", err)}
	}
	if page.StatusCode == http.StatusTooManyRequests {
		return mirrorResult{outcome: Retry("HTTP 429"), throttled: true}
	}
	if page.StatusCode == http.StatusNotFound {
		return mirrorResult{outcome: Retry("not archived")}
	}
	if !page.OK() {
		return mirrorResult{outcome: Retry("HTTP %d", page.StatusCode)}
	}
	if isNoSnapshot(page) {
		return mirrorResult{outcome: Retry("no results placeholder")}
	}

	ex, ok := a.extractor.Extract(page.Body, req.URL)
	if !ok {
		return mirrorResult{outcome: Retry("snapshot has no readable content")}
	}
	c := fromExtracted(req, ex)
	return mirrorResult{outcome: Accept(a.Name(), c)}
}

// isNoSnapshot tells the "nothing archived" placeholder apart from a real
// capture. A hit redirects from /newest/ to a snapshot ID path; a miss stays
// on the lookup path or shows the placeholder text.
func isNoSnapshot(p *fetcher.Page) bool {
	final := strings.ToLower(p.FinalURL)
	if strings.Contains(final, "/newest/") || strings.Contains(final, "/submit/") {
		return true
	}
	if len(p.Body) > markerScanLimit {
		return false
	}
	return containsAny(strings.ToLower(string(p.Body)), noSnapshotPhrases)
}

func mirrorHost(mirror string) string {
	h := hostOf(mirror)
	if h == "" {
		return mirror
	}
	return h
}
