package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/pipeline"
)

func TestRunDigest_Success(t *testing.T) {
	st := newTestStore(t)
	p := pipeline.New(newTestOrchestrator(), pipeline.WithStore(st))

	var out bytes.Buffer
	err := runDigest(context.Background(), p, "https://example.com/ok", pipeline.Options{}, &out)
	require.NoError(t, err)

	var res model.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, model.ResultSucceeded, res.Status)
	assert.Equal(t, "direct_fetch", res.Content.ExtractionMethod)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunDigest_FailurePrintsAndErrors(t *testing.T) {
	p := pipeline.New(newTestOrchestrator())

	var out bytes.Buffer
	err := runDigest(context.Background(), p, "https://example.com/blocked", pipeline.Options{}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(model.FailureExhausted))
	assert.True(t, strings.Contains(out.String(), `"status": "failed"`))
}

func TestPipelineOptions_DropsUnavailableStages(t *testing.T) {
	p := pipeline.New(newTestOrchestrator())
	opts := pipelineOptions(p, true, true)
	assert.False(t, opts.Summarize)
	assert.False(t, opts.FactCheck)
}
