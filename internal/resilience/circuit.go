// Package resilience provides circuit breaker and retry patterns for
// extraction strategies and external service calls.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state. Requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures. Requests are rejected.
	CircuitOpen
	// CircuitHalfOpen allows a single probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *CircuitState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "closed":
		*s = CircuitClosed
	case "open":
		*s = CircuitOpen
	case "half-open":
		*s = CircuitHalfOpen
	default:
		return eris.Errorf("unknown circuit state %q", b)
	}
	return nil
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 3.
	FailureThreshold int

	// Cooldown is how long the circuit stays open after the last failure
	// before a probe is allowed. Default: 60s.
	Cooldown time.Duration

	// ShouldTrip optionally narrows which errors count as failures in
	// Execute. If nil, every non-nil error counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	// It runs with the breaker's lock held and must not call back into it.
	OnStateChange func(from, to CircuitState)

	// Clock defaults to time.Now.
	Clock Clock
}

// DefaultCircuitBreakerConfig returns the defaults used for strategies.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// FromCircuitConfig builds a breaker config from config-file values.
// Non-positive values keep the defaults.
func FromCircuitConfig(failureThreshold, cooldownSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// CircuitBreaker tracks consecutive failures for a single strategy or
// service. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	// probing is set while the single half-open probe is in flight.
	probing bool
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: CircuitClosed,
	}
}

// Allow reports whether a call may proceed. A closed circuit always allows.
// An open circuit rejects until the cooldown since the last failure has
// elapsed; it then moves to half-open and grants exactly one probe. Further
// callers are rejected until the probe is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.cfg.Clock().Sub(cb.lastFailureTime) < cb.cfg.Cooldown {
			return false
		}
		cb.transition(CircuitHalfOpen)
		cb.probing = true
		return true
	case CircuitHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probing = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure counts a failure. The circuit opens once the threshold is
// reached; a failed half-open probe reopens it and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.cfg.Clock()
	cb.probing = false

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// Release gives back a half-open probe whose call ended without a verdict,
// such as a cancelled request. The state and failure count are unchanged.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen if the
// call is not allowed.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		return zero, ErrCircuitOpen
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

func (cb *CircuitBreaker) record(err error) {
	if err != nil && (cb.cfg.ShouldTrip == nil || cb.cfg.ShouldTrip(err)) {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.cfg.Clock().Sub(cb.lastFailureTime) >= cb.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.probing = false
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// Counters returns the current failure count and raw state for observability.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures, cb.state
}

func (cb *CircuitBreaker) status(name string) BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := cb.state
	if st == CircuitOpen && cb.cfg.Clock().Sub(cb.lastFailureTime) >= cb.cfg.Cooldown {
		st = CircuitHalfOpen
	}
	s := BreakerStatus{
		Name:                name,
		State:               st,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		s.LastFailure = &t
	}
	return s
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// BreakerStatus is a point-in-time view of one named breaker.
type BreakerStatus struct {
	Name                string       `json:"name"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         *time.Time   `json:"last_failure,omitempty"`
}

// ServiceBreakers manages circuit breakers keyed by strategy or service
// name. One registry is shared by every URL in a run.
type ServiceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-name circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the circuit breaker for name, creating one if needed.
func (sb *ServiceBreakers) Get(name string) *CircuitBreaker {
	sb.mu.RLock()
	cb, ok := sb.breakers[name]
	sb.mu.RUnlock()
	if ok {
		return cb
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok = sb.breakers[name]; ok {
		return cb
	}
	cfg := sb.cfg
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(from, to CircuitState) {
		zap.L().Info("circuit state change",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if userHook != nil {
			userHook(from, to)
		}
	}
	cb = NewCircuitBreaker(cfg)
	sb.breakers[name] = cb
	return cb
}

// Allow reports whether the named breaker lets a call through.
func (sb *ServiceBreakers) Allow(name string) bool {
	return sb.Get(name).Allow()
}

// RecordSuccess records a success for name.
func (sb *ServiceBreakers) RecordSuccess(name string) {
	sb.Get(name).RecordSuccess()
}

// RecordFailure records a failure for name.
func (sb *ServiceBreakers) RecordFailure(name string) {
	sb.Get(name).RecordFailure()
}

// Release returns an unused half-open probe for name.
func (sb *ServiceBreakers) Release(name string) {
	sb.Get(name).Release()
}

// States returns a snapshot of all circuit breaker states.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}

// Snapshot returns the status of every breaker, sorted by name.
func (sb *ServiceBreakers) Snapshot() []BreakerStatus {
	sb.mu.RLock()
	out := make([]BreakerStatus, 0, len(sb.breakers))
	for name, cb := range sb.breakers {
		out = append(out, cb.status(name))
	}
	sb.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
