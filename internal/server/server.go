package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/internal/store"
	"github.com/yourorg/promptcap/pkg/types"
)

// LatestPath serves the current snapshot.
const LatestPath = "/_promptcap/latest"

// Observer receives every request before it is forwarded upstream.
type Observer interface {
	Observe(req types.ObservedRequest) error
}

// Server is a reverse proxy that hands each request to an Observer and
// forwards it to the upstream provider.
type Server struct {
	cfg      config.ProxyConfig
	observer Observer
	store    store.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	router   chi.Router
}

// New constructs a new Server with routes registered.
func New(cfg config.ProxyConfig, obs Observer, st store.Store, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if obs == nil {
		return nil, errors.New("observer is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("upstream must be an absolute URL")
	}

	srv := &Server{
		cfg:      cfg,
		observer: obs,
		store:    st,
		gatherer: gatherer,
		logger:   logger,
		upstream: upstream,
	}
	srv.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream error"})
		},
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured listen address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("capture proxy listening", "addr", s.cfg.Listen, "upstream", s.upstream.String())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down capture proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get(LatestPath, s.handleLatest)
	r.Handle("/*", s.observe(s.proxy))
	s.router = r
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.LoadSnapshot()
	if errors.Is(err, store.ErrNoSnapshot) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "nothing captured yet"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// observe reads the body, restores it for the proxy and reports the request
// as it will be sent upstream. Capture failures are logged and never stop
// the request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				s.logger.Error("read request body", "error", err)
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		obs := types.ObservedRequest{
			Host:    s.upstream.Host,
			Path:    r.URL.RequestURI(),
			Content: body,
		}
		if err := s.observer.Observe(obs); err != nil {
			s.logger.Error("capture failed", "path", obs.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
