package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/store"
	"github.com/sells-group/digest-cli/pkg/factcheck"
)

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ProcessTrace(ctx context.Context, rawURL string) (*model.Content, []model.Attempt, error) {
	args := m.Called(ctx, rawURL)
	var c *model.Content
	if v := args.Get(0); v != nil {
		c = v.(*model.Content)
	}
	var attempts []model.Attempt
	if v := args.Get(1); v != nil {
		attempts = v.([]model.Attempt)
	}
	return c, attempts, args.Error(2)
}

// --- Summarizer Mock ---

type mockSummarizer struct {
	mock.Mock
}

func (m *mockSummarizer) Summarize(ctx context.Context, c *model.Content) (*model.Summary, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Summary), args.Error(1)
}

// --- Fact Check Mock ---

type mockFactCheck struct {
	mock.Mock
}

func (m *mockFactCheck) Search(ctx context.Context, query string) ([]factcheck.Claim, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]factcheck.Claim), args.Error(1)
}

// --- Store Fake ---

type memStore struct {
	mu      sync.Mutex
	saved   []model.Result
	batches []model.BatchRun
	saveErr error
}

var _ store.Store = (*memStore)(nil)

func (s *memStore) Save(_ context.Context, r model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, r)
	return nil
}

func (s *memStore) SaveBatch(_ context.Context, run model.BatchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, run)
	return nil
}

func (s *memStore) List(context.Context, int) ([]model.Result, error) { return s.saved, nil }

func (s *memStore) Get(context.Context, string) (*model.Result, error) { return nil, store.ErrNotFound }

func (s *memStore) Count(context.Context) (int, error) { return len(s.saved), nil }

func (s *memStore) GetBatch(context.Context, string) (*model.BatchRun, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) ListBatches(context.Context, int) ([]model.BatchRun, error) { return s.batches, nil }

func (s *memStore) Migrate(context.Context) error { return nil }

func (s *memStore) Close() error { return nil }
