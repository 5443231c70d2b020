package model

import "time"

// FailureKind categorizes why a strategy attempt or a whole URL failed.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureInvalidURL       FailureKind = "invalid_url"
	FailureStrategyTimeout  FailureKind = "strategy_timeout"
	FailureStrategyRejected FailureKind = "strategy_rejected"
	FailureCircuitOpenSkip  FailureKind = "circuit_open_skip"
	FailureExhausted        FailureKind = "all_strategies_exhausted"
	FailureSummarization    FailureKind = "summarization_error"
	FailureFactCheck        FailureKind = "fact_check_error"
	FailureInternal         FailureKind = "internal_error"
	FailureCanceled         FailureKind = "canceled"
)

// ResultStatus is the terminal state of a processed URL.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// Attempt records a single strategy decision made for a URL.
type Attempt struct {
	Strategy string        `json:"strategy"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary is the structured LLM output for a piece of content.
type Summary struct {
	Headline  string   `json:"headline"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Sentiment string   `json:"sentiment,omitempty"`
	Topics    []string `json:"topics,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// Rating is one published fact-check verdict for a claim found in content.
type Rating struct {
	Claim         string `json:"claim"`
	Claimant      string `json:"claimant,omitempty"`
	Publisher     string `json:"publisher"`
	TextualRating string `json:"textual_rating"`
	ReviewURL     string `json:"review_url"`
	ReviewDate    string `json:"review_date,omitempty"`
}

// Result is the outcome of processing one URL end to end.
type Result struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Status      ResultStatus  `json:"status"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempts    []Attempt     `json:"attempts,omitempty"`
	Content     *Content      `json:"content,omitempty"`
	Summary     *Summary      `json:"summary,omitempty"`
	Ratings     []Rating      `json:"ratings,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Succeeded reports whether the URL produced usable content.
func (r Result) Succeeded() bool {
	return r.Status == ResultSucceeded
}

// BatchRun is a named collection of results with summary counts.
type BatchRun struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Results     []Result  `json:"results"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}
