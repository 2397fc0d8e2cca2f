package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "sheetcast/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestHandlerEndpoints(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("sheetcast_runs_total 1\n"))
	})
	s := New(Config{Enabled: true}, Sources{
		Status:  func() any { return map[string]any{"in_flight": 2} },
		Metrics: metrics,
	}, logx.Nop())
	h := s.Handler()

	tests := []struct {
		path string
		code int
		body string
	}{
		{path: "/healthz", code: http.StatusOK, body: "ok"},
		{path: "/metrics", code: http.StatusOK, body: "sheetcast_runs_total 1\n"},
		{path: "/debug/pprof/", code: http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.Equal(t, tt.code, rec.Code, tt.path)
		if tt.body != "" {
			require.Equal(t, tt.body, rec.Body.String(), tt.path)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var doc map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, 2, doc["in_flight"])
}

func TestHealthzReportsNotReady(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, Sources{Ready: func() error { return errors.New("scheduler stopped") }}, logx.Nop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "scheduler stopped")
}

func TestTokenGuard(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Token: "s3cret", Pprof: true}, Sources{}, logx.Nop())
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		auth   string
		code   int
	}{
		{name: "missing", target: "/healthz", code: http.StatusUnauthorized},
		{name: "wrong bearer", target: "/healthz", auth: "Bearer nope", code: http.StatusUnauthorized},
		{name: "bearer", target: "/healthz", auth: "Bearer s3cret", code: http.StatusOK},
		{name: "query", target: "/healthz?token=s3cret", code: http.StatusOK},
		{name: "wrong query", target: "/healthz?token=x", auth: "Bearer s3cret", code: http.StatusUnauthorized},
		{name: "pprof index", target: "/debug/pprof/", auth: "Bearer s3cret", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:9477", true},
		{"localhost:9477", true},
		{"[::1]:9477", true},
		{":9477", false},
		{"0.0.0.0:9477", false},
		{"10.0.0.5:9477", false},
		{"nonsense", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, isLoopbackAddr(tt.addr), tt.addr)
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	require.Empty(t, s.Addr())
}

func TestInsecureBindRefused(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Sources{}, logx.Nop())
	err := s.serveOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "insecure bind")
}
