package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
)

type fakeRenderer struct {
	sess    Session
	err     error
	opened  atomic.Int32
	lastURL string
}

func (f *fakeRenderer) Name() string { return "fake" }

func (f *fakeRenderer) Open(_ context.Context, rawURL string) (Session, error) {
	f.opened.Add(1)
	f.lastURL = rawURL
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

// scriptedSession returns snaps in order, repeating the last one.
type scriptedSession struct {
	snaps  []*Snapshot
	calls  int
	live   bool
	closed bool
}

func (s *scriptedSession) Snapshot(context.Context) (*Snapshot, error) {
	i := min(s.calls, len(s.snaps)-1)
	s.calls++
	return s.snaps[i], nil
}

func (s *scriptedSession) Live() bool   { return s.live }
func (s *scriptedSession) Close() error { s.closed = true; return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

var challengeSnap = &Snapshot{Title: "Just a moment...", Text: "Checking your browser before accessing the site."}

func newTestBrowser(r Renderer, clock *fakeClock) *Browser {
	return NewBrowser(r, BrowserConfig{
		ChallengeWait: 10 * time.Second,
		PollInterval:  time.Second,
		Sleep:         clock.Sleep,
		Clock:         clock.Now,
	})
}

func TestBrowser_ExtractsRenderedHTML(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{live: true, snaps: []*Snapshot{{
		Title:    "Budget vote",
		HTML:     articleHTML("Budget vote", articleBody),
		Text:     articleBody,
		FinalURL: "https://news.example.com/budget",
	}}}
	r := &fakeRenderer{sess: sess}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(r, clock).Attempt(context.Background(), Request{URL: "https://news.example.com/budget"})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Equal(t, NameBrowser, o.Content.ExtractionMethod)
	assert.Equal(t, "Budget vote", o.Content.Title)
	assert.True(t, sess.closed)
	assert.Equal(t, 1, sess.calls)
}

func TestBrowser_WaitsOutChallenge(t *testing.T) {
	t.Parallel()
	loaded := &Snapshot{Title: "Budget vote", HTML: articleHTML("Budget vote", articleBody)}
	sess := &scriptedSession{live: true, snaps: []*Snapshot{challengeSnap, challengeSnap, loaded}}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(&fakeRenderer{sess: sess}, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Equal(t, 3, sess.calls)
	assert.Equal(t, 2*time.Second, clock.now.Sub(time.Unix(0, 0)))
}

func TestBrowser_ChallengeNeverResolves(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{live: true, snaps: []*Snapshot{challengeSnap}}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(&fakeRenderer{sess: sess}, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})

	assert.Equal(t, Retryable, o.Kind)
	assert.Equal(t, model.FailureStrategyRejected, o.Failure)
	assert.Contains(t, o.Reason, "unresolved")
	// Bounded: one check per poll interval within the 10s budget.
	assert.Equal(t, 11, sess.calls)
	assert.True(t, sess.closed)
}

func TestBrowser_StaticChallengeFailsImmediately(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{live: false, snaps: []*Snapshot{challengeSnap}}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(&fakeRenderer{sess: sess}, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})

	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "challenge")
	assert.Equal(t, 1, sess.calls)
}

func TestBrowser_TextOnlySnapshot(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{snaps: []*Snapshot{{
		Title:      "Budget vote",
		Text:       "# Budget vote\n\n\n\n" + articleBody,
		StatusCode: 200,
		Published:  "2024-05-01T10:00:00Z",
	}}}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(&fakeRenderer{sess: sess}, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})

	require.Equal(t, Success, o.Kind, o.Reason)
	assert.Contains(t, o.Content.Text, "# Budget vote\n\nThe committee")
	require.NotNil(t, o.Content.PublishedAt)
	assert.Equal(t, 2024, o.Content.PublishedAt.Year())
}

func TestBrowser_ErrorStatus(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{snaps: []*Snapshot{{Title: "Not found", Text: articleBody, StatusCode: 404}}}
	clock := &fakeClock{now: time.Unix(0, 0)}

	o := newTestBrowser(&fakeRenderer{sess: sess}, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Contains(t, o.Reason, "404")
}

func TestBrowser_OpenTimeout(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := &fakeRenderer{err: context.DeadlineExceeded}

	o := newTestBrowser(r, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})
	assert.Equal(t, Retryable, o.Kind)
	assert.Equal(t, model.FailureStrategyTimeout, o.Failure)
}

func TestBrowser_OpenError(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := &fakeRenderer{err: errors.New("chrome crashed")}

	o := newTestBrowser(r, clock).Attempt(context.Background(), Request{URL: "https://x.example/a"})
	assert.Equal(t, model.FailureStrategyRejected, o.Failure)
	assert.Contains(t, o.Reason, "chrome crashed")
}
