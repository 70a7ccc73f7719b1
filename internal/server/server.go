// Package server exposes the repository and the access gate over HTTP and
// serves the static front-end.
package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/K4mp47/poetry-cms/internal/auth"
	"github.com/K4mp47/poetry-cms/internal/content"
	"github.com/K4mp47/poetry-cms/internal/render"
)

// Options collects the server's collaborators. Renderer and Logger may be
// nil.
type Options struct {
	Repo     *content.Repository
	Gate     *auth.Gate
	Sessions *auth.Sessions
	Renderer *render.Renderer
	SiteDir  string
	Logger   *zap.Logger
}

// New returns an http.Server listening on addr.
func New(addr string, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routing table.
func NewHandler(opts Options) http.Handler {
	h := NewHandlers(opts)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("GET /api/settings", h.HandleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.requireSession(h.HandlePutSettings))
	mux.HandleFunc("GET /api/content", h.HandleListContent)
	mux.HandleFunc("GET /api/content/{id}", h.HandleGetContent)
	mux.HandleFunc("POST /api/content", h.requireSession(h.HandleCreateContent))
	mux.HandleFunc("PUT /api/content/{id}", h.requireSession(h.HandlePutContent))
	mux.HandleFunc("DELETE /api/content/{id}", h.requireSession(h.HandleDeleteContent))
	mux.HandleFunc("GET /api/order", h.HandleOrder)
	mux.HandleFunc("GET /api/session", h.HandleSessionStatus)
	mux.HandleFunc("POST /api/session", h.HandleLogin)
	mux.HandleFunc("DELETE /api/session", h.HandleLogout)
	mux.Handle("GET /", staticHandler(opts.SiteDir))

	return h.logRequests(mux)
}

// staticHandler serves dir without directory listings.
func staticHandler(dir string) http.Handler {
	if dir == "" {
		return http.NotFoundHandler()
	}
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(r.URL.Path), "index.html")); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		w.Header().Set("Cache-Control", "no-cache")
		fs.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
