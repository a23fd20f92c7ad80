package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crucible/infrastructure/bus"
	"github.com/ahrav/go-crucible/infrastructure/sink"
	"github.com/ahrav/go-crucible/internal/application"
	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// stubGenerator returns a distinct answer per sampling label so the
// decision policy has real material to rank.
type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _ string, params domain.SamplingParams) (ports.Generation, error) {
	return ports.Generation{
		Text:      fmt.Sprintf("answer from the %s sampling point", params.Label),
		TokensIn:  10,
		TokensOut: 20,
	}, nil
}

// stubVerifier scores candidates by sampling label so one candidate
// clearly wins.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, _, candidate, _ string) (ports.VerificationScores, error) {
	if strings.Contains(candidate, "deterministic") {
		return ports.VerificationScores{Faithfulness: 0.95, Relevancy: 0.90}, nil
	}
	return ports.VerificationScores{Faithfulness: 0.40, Relevancy: 0.35}, nil
}

func testConfig(t *testing.T) *application.Config {
	t.Helper()
	return &application.Config{
		Sampling: []domain.SamplingParams{
			{Label: "deterministic", Temperature: 0.0, MaxTokens: 256},
			{Label: "diverse", Temperature: 0.7, MaxTokens: 256},
		},
		Policy: application.PolicyConfig{
			MinScoreDiff:   0.30,
			MinChosenScore: 0.70,
			Combiner:       "mean",
		},
		Batch: application.BatchConfig{
			TimeoutMinutes: 5,
			StoreCapacity:  16,
		},
		Bus: application.BusConfig{VerifierWorkers: 2},
	}
}

// newTestServer wires a real pipeline over stub collaborators and serves
// it through httptest. The pipeline is shut down via t.Cleanup.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	auditSink, err := sink.NewJSONLSink(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	pairsSink, err := sink.NewJSONLSink(filepath.Join(dir, "pairs.jsonl"))
	require.NoError(t, err)

	eventBus := bus.NewInMemoryBus()

	pipeline, err := application.NewPipeline(
		testConfig(t), stubGenerator{}, stubVerifier{}, eventBus,
		auditSink, pairsSink, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pipeline.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		eventBus.Close()
	})

	mux := http.NewServeMux()
	New(pipeline, nil).Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func postQuestion(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/questions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_SubmitQuestion(t *testing.T) {
	ts := newTestServer(t)

	resp := postQuestion(t, ts, `{"question": "What causes tides?", "context": "gravity notes"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeBody[application.DispatchReceipt](t, resp)
	assert.NotEmpty(t, receipt.BatchID)
	assert.NotEmpty(t, receipt.CorrelationID)
	assert.Equal(t, 2, receipt.ExpectedCount)
}

func TestServer_SubmitRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	t.Run("malformed JSON", func(t *testing.T) {
		resp := postQuestion(t, ts, `{"question": `)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("blank question", func(t *testing.T) {
		resp := postQuestion(t, ts, `{"question": "   "}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_CorrelationIDPassthrough(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/questions",
		strings.NewReader(`{"question": "What causes tides?"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", "caller-supplied")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	receipt := decodeBody[application.DispatchReceipt](t, resp)
	assert.Equal(t, "caller-supplied", receipt.CorrelationID)
}

func TestServer_BatchStatusLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postQuestion(t, ts, `{"question": "What causes tides?"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	receipt := decodeBody[application.DispatchReceipt](t, resp)

	// The stub collaborators resolve the batch quickly; poll until the
	// decision lands.
	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/v1/batches/" + string(receipt.BatchID))
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var view application.BatchView
		if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
			return false
		}
		return view.Status == "decided" || view.Status == "terminal"
	}, 2*time.Second, 10*time.Millisecond)

	stats := decodeBody[application.PipelineStats](t, mustGet(t, ts, "/v1/stats"))
	assert.Equal(t, int64(1), stats.Accepted)
	assert.Equal(t, int64(4), stats.EventsApplied)
}

func TestServer_BatchStatusUnknown(t *testing.T) {
	ts := newTestServer(t)

	resp := mustGet(t, ts, "/v1/batches/no-such-batch")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	resp := mustGet(t, ts, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func mustGet(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp
}
