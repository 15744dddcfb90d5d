package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/cohort/internal/engine"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	broadcastTimeout  = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router      *chi.Mux
	registry    *registry.Registry
	engine      *engine.Engine
	broadcaster *engine.Broadcaster
	store       store.Store
	logger      *slog.Logger
	addr        string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, reg *registry.Registry, eng *engine.Engine, bc *engine.Broadcaster, s store.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router:      chi.NewRouter(),
		registry:    reg,
		engine:      eng,
		broadcaster: bc,
		store:       s,
		logger:      logger,
		addr:        addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/kinds", s.handleListKinds)
		r.Get("/summary", s.handleSummary)
		r.Post("/cancel", s.handleCancel)
		r.Get("/stats", s.handleGetStats)

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", s.handleCreateGroup)
			r.Get("/current", s.handleGetCurrent)
			r.Put("/current", s.handleSwitchGroup)
			r.Post("/{name}/tasks", s.handleAddTask)
			r.Get("/{name}/tasks", s.handleListTasks)
			r.Post("/{name}/run", s.handleRunGroup)
			r.Post("/{name}/run/async", s.handleRunGroupAsync)
			r.Get("/{name}/events", s.handleStreamEvents)
		})

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
// The signal first cancels every task through the broadcaster, so blocking
// run requests complete before the server drains. The broadcaster's Run loop
// must be running.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	s.cancelInFlight()
	s.engine.Broker().Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.engine.Wait()

	s.logger.Info("server stopped")
	return nil
}

// cancelInFlight hands a broadcast to the broadcaster's Run loop and waits for
// it to be served. It returns the number of tokens set, or -1 if the loop did
// not answer within broadcastTimeout.
func (s *Server) cancelInFlight() int {
	s.broadcaster.Notify()
	select {
	case n := <-s.broadcaster.Served():
		return n
	case <-time.After(broadcastTimeout):
		s.logger.Error("cancellation broadcast not served", "timeout", broadcastTimeout.String())
		return -1
	}
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
