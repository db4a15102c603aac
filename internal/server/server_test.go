package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyforge/studyforge/internal/admission"
	apperrors "github.com/studyforge/studyforge/internal/errors"
	"github.com/studyforge/studyforge/internal/planner"
	"github.com/studyforge/studyforge/internal/server/handlers"
	"github.com/studyforge/studyforge/internal/server/middleware"
)

type stubGenerator struct {
	text  string
	err   error
	panic bool
}

func (s *stubGenerator) Model() string { return "stub/model" }

func (s *stubGenerator) Generate(_ context.Context, _ string) (*planner.Plan, error) {
	if s.panic {
		panic("generator exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &planner.Plan{Text: s.text, Model: "stub/model"}, nil
}

func newTestServer(t *testing.T, gen *stubGenerator) *Server {
	t.Helper()
	t.Cleanup(handlers.ResetResponders)
	return New(Options{
		Host:      "127.0.0.1",
		Limiter:   admission.NewFixedWindow(admission.DefaultLimit, admission.DefaultWindow),
		Generator: gen,
		Backend:   "memory",
	})
}

func post(t *testing.T, srv *Server, body, ip string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(body))
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{text: "# Plan"})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestGenerateRouteEndToEnd(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{text: "# Learning Go\n\nbody"})

	for i := 0; i < admission.DefaultLimit; i++ {
		rec := post(t, srv, `{"topic":"Go"}`, "203.0.113.7")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.PlanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "# Learning Go\n\nbody", resp.Plan)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	}

	rec := post(t, srv, `{"topic":"Go"}`, "203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"`+handlers.MsgTooManyRequests+`"}`, rec.Body.String())

	rec = post(t, srv, `{"topic":"Go"}`, "203.0.113.8")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateRouteMethodNotAllowedIsFlat(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{text: "# Plan"})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/generate", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
		assert.JSONEq(t, `{"error":"`+handlers.MsgMethodNotAllowed+`"}`, rec.Body.String())
	}
}

func TestGenerateRouteUpstreamErrors(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{err: errors.New("rate limit exceeded upstream")})

	rec := post(t, srv, `{"topic":"Go"}`, "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"`+handlers.MsgTooManyRequests+`"}`, rec.Body.String())
}

func TestGenerateRoutePanicIsFlat(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{panic: true})

	rec := post(t, srv, `{"topic":"Go"}`, "198.51.100.2")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"`+middleware.PanicMessage+`"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestServerWithoutPlanDependencies(t *testing.T) {
	t.Cleanup(handlers.ResetResponders)
	srv := New(Options{Host: "127.0.0.1"})

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"topic":"Go"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthRoutesUseInjectedManager(t *testing.T) {
	health := handlers.NewHealthManager("test")
	health.RegisterChecker("admission", handlers.CheckerFunc(func(context.Context) error {
		return errors.New("redis down")
	}))

	t.Cleanup(handlers.ResetResponders)
	srv := New(Options{Host: "127.0.0.1", Health: health})
	assert.Same(t, health, srv.Health())

	live := httptest.NewRecorder()
	srv.Handler().ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, live.Code)

	ready := httptest.NewRecorder()
	srv.Handler().ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, ready.Code)
}

func TestVersionRoute(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{text: "# Plan"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, handlers.AppName, resp.App.Name)
}

func TestServerStartAndShutdown(t *testing.T) {
	t.Cleanup(handlers.ResetResponders)
	srv := New(Options{Host: "127.0.0.1", Port: 0})
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
