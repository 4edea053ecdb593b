package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/render"
	"github.com/fclairamb/pagehub/internal/version"
)

const (
	// HTTP server timeouts.
	readHeaderTimeout = 10 * time.Second // Timeout for reading request headers
	shutdownTimeout   = 30 * time.Second // Timeout for graceful shutdown

	requestIDHeader = "X-Request-Id"
)

// Server is the page manager HTTP server.
type Server struct {
	handler    *Handler
	httpServer *http.Server
	config     *ServerConfig
	logger     *slog.Logger
	reloader   *Reloader
	background []func(context.Context)
	workers    sync.WaitGroup
	cancelFunc context.CancelFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBackground runs fn alongside the HTTP server. fn must return once its
// context is canceled; Shutdown waits for it.
func WithBackground(fn func(context.Context)) ServerOption {
	return func(s *Server) {
		s.background = append(s.background, fn)
	}
}

// WithReloader sets the live-reload broadcaster served on /ws.
func WithReloader(r *Reloader) ServerOption {
	return func(s *Server) {
		s.reloader = r
	}
}

// NewServer creates a new web server over the page hub.
func NewServer(cfg *ServerConfig, pages *hub.Hub, renderer *render.Renderer, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reloader == nil {
		s.reloader = NewReloader(logger)
	}

	s.handler = NewHandler(pages, renderer, logger, cfg.LiveReload)

	mux := http.NewServeMux()
	s.handler.Register(mux)
	mux.Handle("GET /ws", s.reloader)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the HTTP handler, including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server. This method blocks until the server is stopped.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting web server",
		"port", s.config.Port,
		"live_reload", s.config.LiveReload,
		"version", version.Version,
		"commit", version.Commit)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for _, fn := range s.background {
		s.workers.Go(func() { fn(workerCtx) })
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		cancel()
		s.workers.Wait()
		return err
	}
}

// Shutdown gracefully shuts down the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.workers.Wait()

	// Hijacked websocket connections are not closed by http.Server.Shutdown.
	s.reloader.Close()

	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's address. Useful for testing.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack hands the connection over for the websocket upgrade.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw.written = true
	rw.statusCode = http.StatusSwitchingProtocols
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// loggingMiddleware tags each request with an id and logs it.
func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		requestID := req.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		reqLogger := logger.With("request_id", requestID)
		reqLogger.DebugContext(req.Context(), "http request",
			"method", req.Method,
			"path", req.URL.Path,
			"remote_addr", req.RemoteAddr,
			"user_agent", req.UserAgent())

		next.ServeHTTP(wrapped, req)

		reqLogger.InfoContext(req.Context(), "http response",
			"method", req.Method,
			"path", req.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
