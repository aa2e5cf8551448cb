// Package httpapi exposes the registry, lifecycle and sync managers over a
// JSON HTTP surface, one route per operation.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/c0deZ3R0/go-registry-kit/lifecycle"
	"github.com/c0deZ3R0/go-registry-kit/registry"
	syncmgr "github.com/c0deZ3R0/go-registry-kit/sync"
)

// Options configures the HTTP server.
type Options struct {
	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// MetricsHandler, when set, is mounted at GET /metrics (typically
	// promhttp.Handler()).
	MetricsHandler http.Handler

	// WebSocketHandler, when set, is mounted at WebSocketPath.
	WebSocketHandler http.Handler

	// WebSocketPath is where WebSocketHandler is mounted. Default "/ws".
	WebSocketPath string
}

// Server routes HTTP requests to the three managers.
type Server struct {
	reg    *registry.Registry
	lc     *lifecycle.Manager
	sync   *syncmgr.Manager
	opts   Options
	logger *slog.Logger
}

// NewServer creates an HTTP server over the given managers.
func NewServer(reg *registry.Registry, lc *lifecycle.Manager, sm *syncmgr.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/ws"
	}
	return &Server{
		reg:    reg,
		lc:     lc,
		sync:   sm,
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "httpapi")),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler)
	}
	if s.opts.WebSocketHandler != nil {
		r.Handle(s.opts.WebSocketPath, s.opts.WebSocketHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/components", func(r chi.Router) {
			r.Get("/", s.handleListComponents)
			r.Post("/", s.handleRegister)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetComponent)
				r.Patch("/", s.handleUpdate)
				r.Delete("/", s.handleUnregister)
				r.Post("/rollback", s.handleRollback)
				r.Get("/versions", s.handleVersionHistory)
				r.Get("/history", s.handleStateHistory)
				r.Get("/errors", s.handleErrorLog)
				r.Get("/last-sync", s.handleLastSync)

				r.Route("/lifecycle", func(r chi.Router) {
					r.Post("/initialize", s.lifecycleHandler("initialize", s.lc.InitializeComponent))
					r.Post("/load", s.lifecycleHandler("load", s.lc.LoadComponent))
					r.Post("/activate", s.lifecycleHandler("activate", s.lc.ActivateComponent))
					r.Post("/deactivate", s.lifecycleHandler("deactivate", s.lc.DeactivateComponent))
					r.Post("/update", s.lifecycleHandler("update", s.lc.UpdateComponent))
					r.Post("/unload", s.lifecycleHandler("unload", s.lc.UnloadComponent))
					r.Post("/unregister", s.lifecycleHandler("unregister", s.lc.UnregisterComponent))
				})
			})
		})

		r.Get("/export", s.handleExport)

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", s.handleListSnapshots)
			r.Post("/", s.handleCreateSnapshot)
			r.Get("/{id}", s.handleGetSnapshot)
			r.Post("/{id}/restore", s.handleRestoreSnapshot)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Post("/", s.handleSync)
			r.Get("/operations", s.handleActiveOperations)
			r.Get("/operations/{id}", s.handleGetOperation)
			r.Get("/history", s.handleSyncHistory)
			r.Get("/queue", s.handleQueueDepth)
			r.Get("/analytics", s.handleAnalytics)
			r.Get("/conflicts", s.handlePendingConflicts)
			r.Post("/conflicts/{id}/resolve", s.handleResolveConflict)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "ok", map[string]interface{}{
		"components":   len(s.reg.List(registry.ListOptions{})),
		"active_syncs": len(s.sync.ActiveOperations()),
		"queue_depth":  s.sync.QueueDepth(),
	})
}
