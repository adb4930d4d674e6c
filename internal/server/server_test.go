package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/promptcap/internal/capture"
	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/internal/store"
	"github.com/yourorg/promptcap/pkg/types"
)

type upstreamHit struct {
	path string
	body string
	host string
}

func newUpstream(t *testing.T) (*httptest.Server, *[]upstreamHit) {
	t.Helper()
	var mu sync.Mutex
	hits := &[]upstreamHit{}
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		*hits = append(*hits, upstreamHit{path: r.URL.RequestURI(), body: string(b), host: r.Host})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	t.Cleanup(up.Close)
	return up, hits
}

func newTestServer(t *testing.T, upstreamURL string) (*Server, *store.FileStore, *bytes.Buffer) {
	t.Helper()
	st := &store.FileStore{
		Dir:          filepath.Join(t.TempDir(), "output"),
		SnapshotName: "claude_code_captured.json",
		LogName:      "claude_code_log.jsonl",
	}
	reg := prometheus.NewRegistry()
	console := &bytes.Buffer{}
	icpt := capture.New(config.CaptureConfig{ProviderHost: "127.0.0.1", PathMarker: "messages"}, st, console, capture.WithMetrics(capture.NewMetrics(reg)))

	cfg := config.ProxyConfig{Listen: "127.0.0.1:0", Upstream: upstreamURL, MetricsPath: "/metrics"}
	srv, err := New(cfg, icpt, st, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st, console
}

func TestServerCapturesAndForwards(t *testing.T) {
	up, hits := newUpstream(t)
	srv, st, console := newTestServer(t, up.URL)

	body := `{"model":"claude-x","messages":[{},{},{}],"tools":[{"name":"search"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages?beta=true", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"id":"msg_1"}` {
		t.Fatalf("unexpected upstream response %s", rec.Body.String())
	}
	if len(*hits) != 1 || (*hits)[0].body != body {
		t.Fatalf("upstream did not receive the original body: %+v", *hits)
	}
	if (*hits)[0].path != "/v1/messages?beta=true" {
		t.Fatalf("unexpected forwarded path %s", (*hits)[0].path)
	}

	snap, err := st.LoadSnapshot()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.MessageCount != 3 || snap.Endpoint != "/v1/messages?beta=true" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !strings.Contains(console.String(), "Captured API Request!") {
		t.Fatalf("expected console report")
	}
}

func TestServerForwardsIrrelevantTraffic(t *testing.T) {
	up, hits := newUpstream(t)
	srv, st, console := newTestServer(t, up.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || len(*hits) != 1 {
		t.Fatalf("expected request forwarded, status=%d hits=%d", rec.Code, len(*hits))
	}
	if _, err := st.LoadSnapshot(); !errors.Is(err, store.ErrNoSnapshot) {
		t.Fatalf("expected no snapshot, got %v", err)
	}
	if console.Len() != 0 {
		t.Fatalf("expected no console output")
	}
}

type failingObserver struct{}

func (failingObserver) Observe(types.ObservedRequest) error { return errors.New("disk full") }

func TestServerCaptureErrorDoesNotBlock(t *testing.T) {
	up, hits := newUpstream(t)
	st := &store.FileStore{Dir: t.TempDir(), SnapshotName: "s.json", LogName: "l.jsonl"}
	cfg := config.ProxyConfig{Upstream: up.URL, MetricsPath: "/metrics"}
	srv, err := New(cfg, failingObserver{}, st, prometheus.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || len(*hits) != 1 {
		t.Fatalf("expected request forwarded despite capture error")
	}
}

func TestServerLatest(t *testing.T) {
	up, _ := newUpstream(t)
	srv, _, _ := newTestServer(t, up.URL)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, LatestPath, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before capture, got %d", rec.Code)
	}

	post := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-x"}`))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), post)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, LatestPath, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got types.CapturedRequest
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Model == nil || *got.Model != "claude-x" {
		t.Fatalf("unexpected latest snapshot %+v", got)
	}
}

func TestServerMetrics(t *testing.T) {
	up, _ := newUpstream(t)
	srv, _, _ := newTestServer(t, up.URL)

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`)))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `promptcap_requests_observed_total{result="captured"} 1`) {
		t.Fatalf("missing captured counter:\n%s", out)
	}
	if !strings.Contains(out, `promptcap_requests_observed_total{result="skipped_empty"} 1`) {
		t.Fatalf("missing skipped counter:\n%s", out)
	}
}

func TestServerUpstreamDown(t *testing.T) {
	up, _ := newUpstream(t)
	url := up.URL
	up.Close()
	srv, _, _ := newTestServer(t, url)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestNewRejectsBadUpstream(t *testing.T) {
	st := &store.FileStore{Dir: t.TempDir()}
	if _, err := New(config.ProxyConfig{Upstream: "/relative"}, failingObserver{}, st, nil, nil); err == nil {
		t.Fatalf("expected error for relative upstream")
	}
	if _, err := New(config.ProxyConfig{Upstream: "http://x"}, nil, st, nil, nil); err == nil {
		t.Fatalf("expected error for nil observer")
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	up, _ := newUpstream(t)
	srv, _, _ := newTestServer(t, up.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
