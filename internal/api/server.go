// Package api provides the HTTP API server for the settlement service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/reward-settler/internal/logging"
	"github.com/reward-settler/internal/models"
	"github.com/reward-settler/internal/service"
)

// Service interfaces for dependency injection and testing

// RewardServiceInterface defines reward and balance operations
type RewardServiceInterface interface {
	GrantReward(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error)
	BindWallet(ctx context.Context, userID, address string) (string, error)
	GetBalance(ctx context.Context, userID string) (*service.BalanceResult, error)
	MintTo(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error)
	GetTransaction(ctx context.Context, userID string, id int64) (*models.RewardTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.RewardTransaction, error)
}

// WithdrawServiceInterface defines withdrawal operations
type WithdrawServiceInterface interface {
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (*models.RewardTransaction, error)
}

// SettlementRunner triggers settlement cycles on demand
type SettlementRunner interface {
	RunCycle(ctx context.Context) (*service.CycleResult, error)
}

// ReconcileRunner triggers reconciliation passes on demand
type ReconcileRunner interface {
	Run(ctx context.Context) (*service.ReconcileResult, error)
}

// HealthChecker reports readiness of a dependency
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AuditReader serves recorded settlement events
type AuditReader interface {
	RecentEvents(ctx context.Context, cycleID string, limit int) ([]models.SettlementEvent, error)
}

// Server is the HTTP API server.
type Server struct {
	router          *mux.Router
	httpServer      *http.Server
	rewardService   RewardServiceInterface
	withdrawService WithdrawServiceInterface
	orchestrator    SettlementRunner
	reconciler      ReconcileRunner
	db              HealthChecker
	audit           AuditReader
	logger          *logging.Logger
	config          *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	rewardService RewardServiceInterface,
	withdrawService WithdrawServiceInterface,
	orchestrator SettlementRunner,
	reconciler ReconcileRunner,
	db HealthChecker,
	audit AuditReader,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		rewardService:   rewardService,
		withdrawService: withdrawService,
		orchestrator:    orchestrator,
		reconciler:      reconciler,
		db:              db,
		audit:           audit,
		logger:          logger.WithField("component", "api"),
		config:          config,
	}

	s.setupRouter()

	return s
}

func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	readTimeout := s.config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Reward and wallet endpoints
	api.HandleFunc("/rewards", s.handleGrantReward).Methods("POST")
	api.HandleFunc("/users/{id}/wallet", s.handleBindWallet).Methods("POST")
	api.HandleFunc("/users/{id}/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/users/{id}/transactions", s.handleListTransactions).Methods("GET")
	api.HandleFunc("/users/{id}/transactions/{txId}", s.handleGetTransaction).Methods("GET")
	api.HandleFunc("/users/{id}/withdrawals", s.handleWithdraw).Methods("POST")

	// Settlement admin endpoints
	api.HandleFunc("/settlements", s.handleRunSettlement).Methods("POST")
	api.HandleFunc("/settlements/{cycleId}/events", s.handleListSettlementEvents).Methods("GET")
	api.HandleFunc("/reconciliations", s.handleRunReconciliation).Methods("POST")
	api.HandleFunc("/mints", s.handleMint).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]string{
		"status":  status,
		"service": "reward-settler",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the mux router, used by tests.
func (s *Server) Router() *mux.Router {
	return s.router
}
