// Package http provides the HTTP router and middleware for perf-api.
package http

// File: internal/http/router.go
// Purpose: Construct the chi router and apply CORS, recovery and request logging middleware.

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Options are the non-API mounts of the router.
type Options struct {
	Log *zap.Logger
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// ReportsDir is served read-only under /reports/ when set.
	ReportsDir string
}

// NewRouter builds an HTTP handler with CORS and request logging.
func NewRouter(opts Options, register func(r chi.Router)) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withRequestLogging(log))
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	register(r)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.ReportsDir != "" {
		fs := http.StripPrefix("/reports/", http.FileServer(http.Dir(opts.ReportsDir)))
		r.Method(http.MethodGet, "/reports/*", fs)
	}
	return r
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRequestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
