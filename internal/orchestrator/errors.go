package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/digest-cli/internal/classify"
	"github.com/sells-group/digest-cli/internal/model"
)

// ErrInvalidURL is returned when the input is not an http(s) URL. No
// strategy is attempted.
var ErrInvalidURL = classify.ErrInvalidURL

// ExtractionFailed reports that no strategy produced content for a URL. It
// carries every attempt, including skips, in order.
type ExtractionFailed struct {
	URL      string
	Kind     model.FailureKind
	Attempts []model.Attempt
}

func (e *ExtractionFailed) Error() string {
	reasons := e.Reasons()
	if len(reasons) == 0 {
		return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("extraction failed for %s: %s (%s)", e.URL, e.Kind, strings.Join(reasons, "; "))
}

// Reasons returns one "strategy: reason" line per attempt.
func (e *ExtractionFailed) Reasons() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reason := a.Reason
		if reason == "" {
			reason = string(a.Kind)
		}
		out = append(out, a.Strategy+": "+reason)
	}
	return out
}

// FailureKindOf maps an error returned by Process to a FailureKind.
func FailureKindOf(err error) model.FailureKind {
	if err == nil {
		return model.FailureNone
	}
	var ef *ExtractionFailed
	if errors.As(err, &ef) {
		return ef.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidURL):
		return model.FailureInvalidURL
	case errors.Is(err, context.Canceled):
		return model.FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return model.FailureStrategyTimeout
	default:
		return model.FailureInternal
	}
}
