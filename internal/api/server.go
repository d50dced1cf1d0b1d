// Package api wires the HTTP surface: the plan stream, cached image files,
// cache administration and the ambient health/metrics endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stone17/my-sky-observer/internal/auth"
	"github.com/stone17/my-sky-observer/internal/catalog"
	"github.com/stone17/my-sky-observer/internal/health"
	"github.com/stone17/my-sky-observer/internal/imagecache"
	"github.com/stone17/my-sky-observer/internal/metrics"
	"github.com/stone17/my-sky-observer/internal/stream"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, planHandler *stream.Handler, store *catalog.Store, cache *imagecache.Cache, logger *slog.Logger, authCfg auth.Config) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/plan", planHandler.HandlePlan)
	mux.HandleFunc("GET /api/v1/catalogs", catalogsHandler(store))
	mux.HandleFunc("GET /cache/{fingerprint}/{file}", cacheFileHandler(cache))
	mux.HandleFunc("DELETE /api/v1/cache", purgeAllHandler(cache, logger))
	mux.HandleFunc("DELETE /api/v1/cache/{fingerprint}", purgeHandler(cache, logger))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Plan streams clear their own write deadline through
			// ResponseController; this only bounds plain endpoints.
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func catalogsHandler(store *catalog.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"catalogs": store.Catalogs()})
	}
}

// cacheFileHandler serves cached images. Entries are immutable, so clients
// may cache them forever; a changed setup lands on a new fingerprint URL.
func cacheFileHandler(cache *imagecache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fingerprint := r.PathValue("fingerprint")
		file := r.PathValue("file")
		if !safePathComponent(fingerprint) || !safePathComponent(file) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid path"})
			return
		}

		path := filepath.Join(cache.Dir(), fingerprint, file)
		if _, err := os.Stat(path); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeFile(w, r, path)
	}
}

func purgeAllHandler(cache *imagecache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cache.PurgeAll(); err != nil {
			logger.Error("cache purge failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "purge failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
	}
}

func purgeHandler(cache *imagecache.Cache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fingerprint := r.PathValue("fingerprint")
		if err := cache.Purge(fingerprint); err != nil {
			logger.Warn("cache partition purge rejected", "fingerprint", fingerprint, "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid fingerprint"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "purged", "fingerprint": fingerprint})
	}
}

// safePathComponent rejects anything that could escape the cache directory.
func safePathComponent(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, "/\\") && s == imagecache.SanitizeID(s)
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush and Unwrap keep SSE streaming working through the wrapper.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
