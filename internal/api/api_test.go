package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pt "github.com/argenta/argenta-backend/internal/protocol/protocoltest"
	"github.com/argenta/argenta-backend/internal/repository"
	"github.com/argenta/argenta-backend/internal/store"
	"github.com/argenta/argenta-backend/internal/ws"
)

type actionCount struct {
	action, result string
}

// recordingMetrics counts protocol actions and ignores the rest.
type recordingMetrics struct {
	mu      sync.Mutex
	actions map[actionCount]int
	liq     int
}

func (m *recordingMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

func (m *recordingMetrics) RecordAction(_ context.Context, action, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actions == nil {
		m.actions = make(map[actionCount]int)
	}
	m.actions[actionCount{action, result}]++
}

func (m *recordingMetrics) RecordLiquidation(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liq++
}

func (m *recordingMetrics) count(action, result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actions[actionCount{action, result}]
}

type testServer struct {
	t       *testing.T
	env     *pt.Env
	srv     *httptest.Server
	metrics *recordingMetrics
	events  *repository.MemoryStore
	cache   *store.Cache
}

func newTestServer(t *testing.T, rateLimitRPM int) *testServer {
	t.Helper()
	env := pt.New(t)
	logger := zap.NewNop().Sugar()

	cache := store.NewMemoryCache(logger, nil)
	t.Cleanup(func() { cache.Close() })
	eventStore := repository.NewMemoryStore()
	env.Protocol.Bus.Subscribe(repository.NewSink(eventStore, logger))
	env.Protocol.Bus.Subscribe(store.NewEventSink(cache))

	m := &recordingMetrics{}
	h := NewHandler(env.Protocol, eventStore,
		ws.NewHub(cache, logger, nil, nil), ws.NewSSEHandler(cache, logger, nil),
		cache, logger, m)
	srv := httptest.NewServer(h.Routes(NewMiddleware(logger, m), []string{"http://localhost:3000"}, rateLimitRPM, nil))
	t.Cleanup(srv.Close)

	return &testServer{t: t, env: env, srv: srv, metrics: m, events: eventStore, cache: cache}
}

// do sends body as JSON with caller in X-Caller and decodes the response
// into out when out is non-nil.
func (s *testServer) do(method, path string, caller common.Address, body any, out any) int {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(CallerHeader, caller.Hex())
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// failure asserts an error response and returns its code.
func (s *testServer) failure(method, path string, caller common.Address, body any, wantStatus int) string {
	s.t.Helper()
	var resp ErrorResponse
	status := s.do(method, path, caller, body, &resp)
	require.Equal(s.t, wantStatus, status, resp.Message)
	return resp.Code
}
