package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/query"
	"github.com/archrag/archrag/internal/ragerr"
	"github.com/archrag/archrag/internal/telemetry"
	"github.com/archrag/archrag/internal/tier"
)

// stubCoordinator records the request and returns a canned result.
type stubCoordinator struct {
	lastReq *query.Request
	result  *query.AnswerResult
	err     error
}

func (s *stubCoordinator) Query(_ context.Context, req *query.Request) (*query.AnswerResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestServer(coord Coordinator) *Server {
	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg)
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, coord, telemetry.NewQueryStats(), reg, nil, nil)
}

func postQuery(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleQueryOK(t *testing.T) {
	coord := &stubCoordinator{result: &query.AnswerResult{
		Answer: "The saga pattern coordinates distributed transactions. [1]",
		Sources: []query.Source{{
			DocumentID: "patterns/saga.md",
			SourceType: "curated",
			Score:      0.016,
		}},
		RetrievedDocs:  1,
		RetrievalStats: &tier.Stats{Tier1Results: 1},
	}}
	srv := newTestServer(coord)

	rec := postQuery(t, srv.Router(), `{"query": "what is the saga pattern?", "top_k": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res query.AnswerResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Answer, "saga pattern")
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "patterns/saga.md", res.Sources[0].DocumentID)
	assert.Equal(t, 1, res.RetrievalStats.Tier1Results)

	require.NotNil(t, coord.lastReq)
	assert.Equal(t, "what is the saga pattern?", coord.lastReq.Query)
	assert.Equal(t, 3, coord.lastReq.TopK)
}

func TestHandleQueryPassesWebOptions(t *testing.T) {
	coord := &stubCoordinator{result: &query.AnswerResult{}}
	srv := newTestServer(coord)

	rec := postQuery(t, srv.Router(),
		`{"query": "latest news", "enable_web_search": true, "web_mode": "parallel", "user_context": {"team": "infra"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, coord.lastReq.EnableWebSearch)
	assert.Equal(t, config.WebModeParallel, coord.lastReq.WebMode)
	assert.Equal(t, "infra", coord.lastReq.UserContext["team"])
}

func TestHandleQueryMalformedBody(t *testing.T) {
	srv := newTestServer(&stubCoordinator{})
	rec := postQuery(t, srv.Router(), `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryValidationError(t *testing.T) {
	coord := &stubCoordinator{err: ragerr.New(ragerr.ErrCodeEmptyQuery, "query must not be empty", nil)}
	srv := newTestServer(coord)

	rec := postQuery(t, srv.Router(), `{"query": ""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var er errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
	assert.Equal(t, ragerr.ErrCodeEmptyQuery, er.Code)
}

func TestHandleQueryInternalError(t *testing.T) {
	coord := &stubCoordinator{err: ragerr.New(ragerr.ErrCodeIndexUnavailable, "vector index offline", nil)}
	srv := newTestServer(coord)

	rec := postQuery(t, srv.Router(), `{"query": "anything"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubCoordinator{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzIncludesReporterDetail(t *testing.T) {
	health := func(context.Context) map[string]any {
		return map[string]any{
			"vectors":           42,
			"premium_embedders": []string{"openai-large"},
		}
	}
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, &stubCoordinator{}, nil, nil, health, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 42, body["vectors"])
	assert.Equal(t, []any{"openai-large"}, body["premium_embedders"])
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(&stubCoordinator{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.TotalQueries)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	metrics.QueriesTotal.WithLabelValues("ok").Inc()
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, &stubCoordinator{}, nil, reg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archrag_")
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(&stubCoordinator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestQueryRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(&stubCoordinator{})
	huge := `{"query": "` + strings.Repeat("x", maxRequestBody) + `"}`
	rec := postQuery(t, srv.Router(), huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
