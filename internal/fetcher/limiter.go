package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces requests to one host. Successes raise the rate by
// 20% up to twice the starting rate; a 429 halves it, down to a quarter.
type AdaptiveLimiter struct {
	host    string
	limiter *rate.Limiter

	mu       sync.Mutex
	current  rate.Limit
	ceiling  rate.Limit
	floor    rate.Limit
	throttle int
}

// NewAdaptiveLimiter creates a limiter starting at initial events per second.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return newHostAdaptive("", initial, burst)
}

func newHostAdaptive(host string, initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		host:    host,
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		ceiling: initial * 2,
		floor:   initial / 4,
	}
}

// Wait blocks until the host may be contacted again.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess nudges the rate up.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(min(a.current*1.2, a.ceiling))
}

// OnRateLimit backs off after the host answered 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.throttle++
	a.set(max(a.current*0.5, a.floor))
	zap.L().Warn("fetcher: host rate limited, slowing down",
		zap.String("host", a.host),
		zap.Float64("rate_per_sec", float64(a.current)),
		zap.Int("times_throttled", a.throttle),
	)
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.current = r
	a.limiter.SetLimit(r)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HostLimiter hands out one AdaptiveLimiter per host so concurrent URL tasks
// share a politeness budget for each site. A rate set for a domain also
// covers its subdomains.
type HostLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*AdaptiveLimiter
	overrides map[string]rate.Limit
	rate      rate.Limit
	burst     int
}

// NewHostLimiter creates a HostLimiter with a default per-host rate and
// burst.
func NewHostLimiter(perHost rate.Limit, burst int) *HostLimiter {
	if perHost <= 0 {
		perHost = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters:  make(map[string]*AdaptiveLimiter),
		overrides: DefaultHostRates(),
		rate:      perHost,
		burst:     burst,
	}
}

// DefaultHostRates returns rates for domains that publish a fair-access
// limit. EDGAR allows 10 requests per second across all of sec.gov.
func DefaultHostRates() map[string]rate.Limit {
	return map[string]rate.Limit{"sec.gov": 10}
}

// SetRate overrides the rate for domain and its subdomains. Limiters
// already handed out for those hosts are replaced on next use.
func (h *HostLimiter) SetRate(domain string, r rate.Limit) {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" || r <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overrides[domain] = r
	for host := range h.limiters {
		if underDomain(host, domain) {
			delete(h.limiters, host)
		}
	}
}

// For returns the limiter for rawURL's host.
func (h *HostLimiter) For(rawURL string) *AdaptiveLimiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	h.mu.Lock()
	defer h.mu.Unlock()
	if lim, ok := h.limiters[host]; ok {
		return lim
	}
	r, burst := h.rate, h.burst
	if o, ok := h.overrideFor(host); ok {
		r = o
		burst = max(burst, int(o))
	}
	lim := newHostAdaptive(host, r, burst)
	h.limiters[host] = lim
	return lim
}

// overrideFor finds the most specific domain override covering host.
func (h *HostLimiter) overrideFor(host string) (rate.Limit, bool) {
	for d := host; d != ""; {
		if r, ok := h.overrides[d]; ok {
			return r, true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return 0, false
}

func underDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Wait blocks until rawURL's host may be contacted.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	return h.For(rawURL).Wait(ctx)
}
