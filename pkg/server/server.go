package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/solarcast/forecastsolar/pkg/forecastsolar"
	"github.com/solarcast/forecastsolar/pkg/log"
)

// Forecaster is the part of the forecast.solar client the server needs.
type Forecaster interface {
	Estimate(ctx context.Context) (*forecastsolar.Estimate, error)
	ValidatePlane(ctx context.Context) (bool, error)
	RateLimit() (forecastsolar.RateLimit, bool)
}

// Server exposes the forecast of a single plane over HTTP. Every request that
// needs forecast data results in a fresh call to forecast.solar.
type Server struct {
	forecaster Forecaster
	limiter    *rate.Limiter
	registry   *prometheus.Registry
	metrics    *metrics

	listenAddr string
	httpServer *http.Server
	serverName string
}

// New returns a Server that allows upstream calls at most once per interval
// with the given burst.
func New(f Forecaster, interval time.Duration, burst int) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		forecaster: f,
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
		registry:   reg,
		metrics:    newMetrics(reg),
		serverName: "forecastsolar",
	}
}

// Configured initializes the Server from flags.
func Configured(f Forecaster) *Server {
	srv := New(f, time.Minute, 5)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	interval := lflag.Duration("estimate-interval", time.Minute, "Minimum interval between calls to forecast.solar once the burst is used up")
	serverName := lflag.String("server-name", "forecastsolar", "Value of the Server header")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.limiter.SetLimit(rate.Every(*interval))
		srv.serverName = *serverName
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/estimate", s.handleEstimate)
	apiMux.HandleFunc("GET /api/check", s.handleCheck)
	apiMux.HandleFunc("GET /api/ratelimit", s.handleRateLimit)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{DisableCompression: true}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
