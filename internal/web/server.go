package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/dispatch"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/logging"
	"github.com/hpungsan/scoper/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Deps are the services the UI calls into.
type Deps struct {
	Engine     *engine.Engine
	Dispatcher *dispatch.Dispatcher
	DB         *sql.DB
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

// NewServer creates and configures the HTTP server for the scoper web UI.
func NewServer(deps Deps, cfg *config.Config, version, bind string, port int) (*http.Server, error) {
	handler, err := newHandler(deps, cfg, version)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func newHandler(deps Deps, cfg *config.Config, version string) (http.Handler, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	logger := logging.OrNop(deps.Logger)
	renderer, err := NewRenderer(templateSub, version, logger)
	if err != nil {
		return nil, err
	}

	h := &Handlers{
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		db:         deps.DB,
		cfg:        cfg,
		renderer:   renderer,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/conversations", http.StatusFound)
	})
	mux.HandleFunc("GET /conversations", h.HandleConversations)
	mux.HandleFunc("GET /conversations/{user}", h.HandleConversation)
	mux.HandleFunc("POST /conversations/{user}/messages", h.HandleMessage)
	mux.HandleFunc("POST /conversations/{user}/execute", h.HandleExecute)
	mux.HandleFunc("POST /conversations/{user}/reset", h.HandleReset)
	mux.HandleFunc("GET /briefs", h.HandleBriefs)
	mux.HandleFunc("GET /briefs/{id}", h.HandleBrief)
	mux.HandleFunc("DELETE /briefs/{id}", h.HandleDeleteBrief)
	mux.HandleFunc("POST /briefs/purge", h.HandlePurge)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return accessLog(logger, securityHeaders(mux)), nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("scoper UI running", zap.String("url", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
