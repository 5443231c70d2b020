package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/orchestrator"
	"github.com/sells-group/digest-cli/internal/pipeline"
	"github.com/sells-group/digest-cli/internal/resilience"
	"github.com/sells-group/digest-cli/internal/store"
	"github.com/sells-group/digest-cli/internal/strategy"
)

const testBody = "This is the body of a test article. It is long enough to pass the content " +
	"length gate that every strategy must clear before reporting success."

// stubStrategy succeeds for URLs containing "ok" and rejects the rest.
type stubStrategy struct{ name string }

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) Attempt(_ context.Context, req strategy.Request) strategy.Outcome {
	if !strings.Contains(req.URL, "ok") {
		return strategy.Retry("HTTP 403")
	}
	return strategy.Accept(s.name, &model.Content{Title: "Stub", Text: testBody})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "history.db"), 100)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestOrchestrator() *orchestrator.Orchestrator {
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	return orchestrator.New(orchestrator.Config{}, breakers, nil,
		stubStrategy{name: strategy.NameDirectFetch},
		stubStrategy{name: strategy.NameArchive},
	)
}

func newTestAPI(t *testing.T) (*apiServer, store.Store) {
	t.Helper()
	st := newTestStore(t)
	orch := newTestOrchestrator()
	p := pipeline.New(orch, pipeline.WithStore(st))
	return &apiServer{
		pipeline: p,
		batch:    pipeline.NewBatch(p, 2),
		store:    st,
		breakers: orch.Breakers(),
	}, st
}
