package resilience

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
	// RetryAfter is the server-requested delay, zero when none was sent.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// RetryAfterOf returns the server-requested delay carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header value given either as delay
// seconds or as an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// transientMessages match errors from HTTP clients that lost their typed
// cause while being wrapped. An unknown host is left out: a dead domain
// will not come back between attempts.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"unexpected eof",
	"http2: server sent goaway",
}

// IsTransient reports whether err is worth another attempt: an explicit
// TransientError anywhere in the chain, a network timeout, a dropped
// connection, or a message matching a known transport failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, io.ErrUnexpectedEOF} {
		if errors.Is(err, target) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// StatusOverloaded is the non-standard status some APIs, Anthropic's among
// them, send when temporarily at capacity.
const StatusOverloaded = 529

// IsTransientHTTPStatus reports whether a response status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		StatusOverloaded:
		return true
	}
	return false
}

// WrapStatus wraps err as a TransientError when statusCode is transient and
// returns it unchanged otherwise. A Retry-After value in header is recorded.
func WrapStatus(err error, statusCode int, header http.Header) error {
	if err == nil {
		return nil
	}
	if !IsTransientHTTPStatus(statusCode) {
		return err
	}
	te := NewTransientError(err, statusCode)
	if header != nil {
		te.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return te
}
