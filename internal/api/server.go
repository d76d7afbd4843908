// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/service"
	"github.com/alpaca-lotto/internal/types"
)

// Service interfaces for dependency injection and testing

// LotteryReadService defines the lottery read operations the server needs
type LotteryReadService interface {
	GetAllLotteries(ctx context.Context) (*service.LotteryList, error)
	GetActiveLotteries(ctx context.Context) (*service.LotteryList, error)
	GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error)
	GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error)
	IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error)
	Source() types.DataSource
}

// TokenOptimizerService defines the gas token optimization operation
type TokenOptimizerService interface {
	FindOptimalToken(ctx context.Context, tokens []types.Token, prefs *types.UserPreferences) (*types.OptimizationResult, error)
}

// SessionKeyService defines the session key lifecycle operations
type SessionKeyService interface {
	Create(ctx context.Context, owner string, durationSeconds int64) (*types.SessionKeyInfo, error)
	Get(ctx context.Context, id string) (*types.SessionKeyInfo, error)
	ListByOwner(ctx context.Context, owner string) ([]*types.SessionKeyInfo, error)
	Revoke(ctx context.Context, id string) (*types.SessionKeyInfo, error)
}

// PurchaseClaimService defines ticket purchase and prize claim operations
type PurchaseClaimService interface {
	PurchaseTickets(ctx context.Context, input *service.PurchaseInput) (*types.PurchaseRecord, error)
	ClaimPrize(ctx context.Context, input *service.ClaimInput) (*types.ClaimResult, error)
	GetPurchases(ctx context.Context, lotteryID int64, limit int) ([]*types.PurchaseRecord, error)
}

// ReferralProgramService defines referral registration and the leaderboard
type ReferralProgramService interface {
	Register(ctx context.Context, address, referralCode string) (*types.ReferralUser, error)
	Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error)
}

// SignatureVerifier checks a wallet signature over a canonical message
type SignatureVerifier interface {
	Verify(address, message, signatureHex string) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	lottery   LotteryReadService
	optimizer TokenOptimizerService
	sessions  SessionKeyService
	purchases PurchaseClaimService
	referrals ReferralProgramService
	verifier  SignatureVerifier
	hub       *UpdateHub

	config *ServerConfig
	logger *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS     float64 // Requests per second per free-tier client
	RateLimitPaidRPS float64 // Requests per second per paid-tier client
	RateLimitBurst   int
}

// ServerDeps bundles the services the server depends on.
type ServerDeps struct {
	Lottery   LotteryReadService
	Optimizer TokenOptimizerService
	Sessions  SessionKeyService
	Purchases PurchaseClaimService
	Referrals ReferralProgramService
	Verifier  SignatureVerifier
	Hub       *UpdateHub
	Logger    *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps ServerDeps) *Server {
	if config == nil {
		config = &ServerConfig{}
	}
	if config.Host == "" {
		config.Host = "0.0.0.0"
	}
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithField("component", "api_server")

	hub := deps.Hub
	if hub == nil {
		hub = NewUpdateHub(logger)
	}

	s := &Server{
		router:    mux.NewRouter(),
		lottery:   deps.Lottery,
		optimizer: deps.Optimizer,
		sessions:  deps.Sessions,
		purchases: deps.Purchases,
		referrals: deps.Referrals,
		verifier:  deps.Verifier,
		hub:       hub,
		config:    config,
		logger:    logger,
	}

	s.setupRouter()

	return s
}

// Hub returns the WebSocket update hub, so event producers can publish
// through it.
func (s *Server) Hub() *UpdateHub {
	return s.hub
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitPaidRPS, s.config.RateLimitBurst)

	// Middleware order matters: recovery outermost, compression innermost
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Prometheus exposition lives outside the /api prefix
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Lottery read endpoints
	api.HandleFunc("/lotteries", s.handleGetLotteries).Methods("GET")
	api.HandleFunc("/lotteries/active", s.handleGetActiveLotteries).Methods("GET")
	api.HandleFunc("/lottery/{id}", s.handleGetLottery).Methods("GET")
	api.HandleFunc("/lottery/{id}/tickets/{address}", s.handleGetTickets).Methods("GET")
	api.HandleFunc("/lottery/{id}/winner/{address}", s.handleGetWinner).Methods("GET")
	api.HandleFunc("/lottery/{id}/purchases", s.handleGetLotteryPurchases).Methods("GET")

	// Token optimization
	api.HandleFunc("/optimize-token", s.handleOptimizeToken).Methods("POST")

	// Purchases and claims
	api.HandleFunc("/purchase-tickets", s.handlePurchaseTickets).Methods("POST")
	api.HandleFunc("/claim-prize", s.handleClaimPrize).Methods("POST")

	// Session key lifecycle
	api.HandleFunc("/create-session-key", s.handleCreateSessionKey).Methods("POST")
	api.HandleFunc("/revoke-session-key", s.handleRevokeSessionKey).Methods("POST")
	api.HandleFunc("/session-keys/{address}", s.handleListSessionKeys).Methods("GET")

	// Referral program
	api.HandleFunc("/referral", s.handleRegisterReferral).Methods("POST")
	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")

	// Live updates
	api.HandleFunc("/ws", s.hub.HandleWS).Methods("GET")
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, disconnecting WebSocket
// clients first so their read loops end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}
