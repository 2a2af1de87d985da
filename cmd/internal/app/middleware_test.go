package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskchat/cmd/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "1xx"},
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 429, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
		{status: 42, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "unknown"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Errorf("wrapped writer lost http.Flusher")
		}
		http.Error(w, "missing", http.StatusNotFound)
	}), log, m)

	req := httptest.NewRequest(http.MethodGet, "/api/threads/x/messages", nil)
	req.Header.Set(requestIDHeader, "client-supplied")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(requestIDHeader); got != "client-supplied" {
		t.Fatalf("request id not echoed: %q", got)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line: %q (%v)", buf.String(), err)
	}
	if rec["msg"] != "http.request" || rec["level"] != "WARN" || rec["status"] != float64(404) || rec["result"] != "client_error" {
		t.Fatalf("record=%v", rec)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "404")); got != 1 {
		t.Fatalf("http_requests_total=%v", got)
	}
}

func TestWithRequestLogging_MintsRequestID(t *testing.T) {
	t.Parallel()

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}), discardLogger(), nil)

	for _, supplied := range []string{"", strings.Repeat("x", 65)} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if supplied != "" {
			req.Header.Set(requestIDHeader, supplied)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get(requestIDHeader); len(got) != 26 {
			t.Fatalf("expected a minted ULID, got %q", got)
		}
	}
}

func TestWithCORS(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CORSAllowedOrigins:   []string{"https://app.example.com", "http://127.0.0.1:*"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}

	cases := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllow   string
		wantNextRun bool
	}{
		{name: "preflight allowed", method: http.MethodOptions, origin: "https://app.example.com", preflight: true, wantStatus: http.StatusNoContent, wantAllow: "https://app.example.com"},
		{name: "simple allowed", method: http.MethodPost, origin: "https://app.example.com", wantStatus: http.StatusTeapot, wantAllow: "https://app.example.com", wantNextRun: true},
		{name: "wildcard port", method: http.MethodGet, origin: "http://127.0.0.1:55123", wantStatus: http.StatusTeapot, wantAllow: "http://127.0.0.1:55123", wantNextRun: true},
		{name: "disallowed", method: http.MethodGet, origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
		{name: "no origin", method: http.MethodGet, wantStatus: http.StatusTeapot, wantNextRun: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ran := false
			h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				ran = true
				w.WriteHeader(http.StatusTeapot)
			}), cfg, discardLogger())

			req := httptest.NewRequest(tc.method, "/api/chat", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d", rr.Code, tc.wantStatus)
			}
			if ran != tc.wantNextRun {
				t.Fatalf("next ran=%v want=%v", ran, tc.wantNextRun)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("allow-origin=%q want=%q", got, tc.wantAllow)
			}
			if tc.wantAllow != "" && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Fatalf("allow-credentials missing")
			}
			if tc.preflight && rr.Header().Get("Access-Control-Max-Age") != "600" {
				t.Fatalf("max-age=%q", rr.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestWithCORS_DisabledWithoutOrigins(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := WithCORS(next, Config{}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/threads", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("status=%d allow=%q", rr.Code, rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rr.Header().Get(k); got != v {
			t.Fatalf("%s=%q want=%q", k, got, v)
		}
	}
}
