// Package server wires the HTTP routes of a VaultSync node.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/Synaptikal/VaultSync-sub001/internal/config"
	synerrors "github.com/Synaptikal/VaultSync-sub001/internal/errors"
	"github.com/Synaptikal/VaultSync-sub001/internal/handler"
	"github.com/Synaptikal/VaultSync-sub001/internal/health"
	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"github.com/Synaptikal/VaultSync-sub001/internal/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	sync         *handler.SyncHandler
	transactions *handler.TransactionHandler
	health       *health.HealthChecker
	errorHandler *synerrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server and registers its routes.
func NewServer(
	cfg *config.Config,
	syncHandler *handler.SyncHandler,
	transactionHandler *handler.TransactionHandler,
	healthChecker *health.HealthChecker,
	errorHandler *synerrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	s := &Server{
		router:       router,
		sync:         syncHandler,
		transactions: transactionHandler,
		health:       healthChecker,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.errorHandler, s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS([]string{"*"}),
		metrics.Middleware(s.metrics),
	}
	if s.cfg.Server.RequestTimeout > 0 {
		chain = append(chain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(mux.MiddlewareFunc(middleware.Chain(chain...)))

	s.router.HandleFunc("/health", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	syncRoutes := s.router.PathPrefix("/sync").Subrouter()

	push := http.Handler(http.HandlerFunc(s.sync.Push))
	if s.cfg.RateLimiter.Enabled {
		limiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.errorHandler,
			s.logger,
		)
		push = limiter.Limit(push)
	}
	syncRoutes.Handle("/push", push).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/pull", s.sync.Pull).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/status", s.sync.Status).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/now", s.sync.SyncNow).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/devices", s.sync.Devices).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/pair", s.sync.Pair).Methods(http.MethodPost)
	syncRoutes.HandleFunc("/conflicts", s.sync.ListConflicts).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/conflicts/{id}", s.sync.GetConflict).Methods(http.MethodGet)
	syncRoutes.HandleFunc("/conflicts/{id}/resolve", s.sync.ResolveConflict).Methods(http.MethodPost)

	txRoutes := s.router.PathPrefix("/api/v1/transactions").Subrouter()
	txRoutes.HandleFunc("/sale", s.transactions.Sale).Methods(http.MethodPost)
	txRoutes.HandleFunc("/buy", s.transactions.Buy).Methods(http.MethodPost)
	txRoutes.HandleFunc("/return", s.transactions.Return).Methods(http.MethodPost)
	txRoutes.HandleFunc("/trade", s.transactions.Trade).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, synerrors.ErrCodeNotFound.String(),
			"endpoint not found", nil, r.Header.Get(middleware.RequestIDHeader))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, synerrors.ErrCodeInvalidArgument.String(),
			"method not allowed", nil, r.Header.Get(middleware.RequestIDHeader))
	})
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
