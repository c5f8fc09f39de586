package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/api/handlers"
	"github.com/bikeshrana/qbtrader/internal/audit"
	"github.com/bikeshrana/qbtrader/internal/auth"
	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/circuitbreaker"
	"github.com/bikeshrana/qbtrader/internal/config"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/internal/core/risk"
	"github.com/bikeshrana/qbtrader/internal/core/strategy"
	"github.com/bikeshrana/qbtrader/internal/core/strategy/performance"
	"github.com/bikeshrana/qbtrader/internal/data"
	"github.com/bikeshrana/qbtrader/internal/data/timescale"
	"github.com/bikeshrana/qbtrader/internal/metrics"
)

// Server wraps the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	logger zerolog.Logger
}

// Deps collects every component the API surface is wired against. It
// replaces the teacher's bare (db, logger) constructor now that every
// handler is backed by a real subsystem instead of a mock stub.
type Deps struct {
	Config   *config.ServerConfig
	DB       *timescale.Client
	Bus      *events.EventBus
	Metrics  *metrics.TradingMetrics
	Breakers *circuitbreaker.Manager
	Risk     *risk.Manager

	JWT         *auth.JWTService
	Users       *data.UserRepository
	AuditLogger *audit.AuditLogger

	StrategyEngine *strategy.Engine
	StrategyLoader *strategy.Loader
	Performance    *performance.Tracker
	Strategies     *data.StrategiesRepository

	Positions *position.Manager
	Broker    broker.Adapter
	Portfolio *data.PortfolioRepository

	Orders *data.OrdersRepository
	Queue  *orderqueue.Queue

	Logger zerolog.Logger
}

// NewServer creates a new HTTP server wired against every subsystem in deps.
func NewServer(deps *Deps) *Server {
	logger := deps.Logger
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMetricsMiddleware(deps.Metrics))
	}

	r.Use(middleware.SetHeader("Access-Control-Allow-Origin", "*"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization"))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Bus, logger)
	authHandler := handlers.NewAuthHandler(deps.JWT, deps.Users, deps.AuditLogger, logger)
	strategiesHandler := handlers.NewStrategiesHandler(deps.Strategies, deps.StrategyEngine, deps.StrategyLoader, deps.Performance, logger)
	portfolioHandler := handlers.NewPortfolioHandler(deps.Positions, deps.Broker, deps.Portfolio, logger)
	ordersHandler := handlers.NewOrdersHandler(deps.Orders, deps.Queue, deps.Broker, logger)
	systemHandler := handlers.NewSystemHandler(deps.Bus, deps.Breakers, deps.Risk, logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditLogger, logger)

	r.Get("/healthz", healthHandler.Liveness)
	r.Get("/readyz", healthHandler.Readiness)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.RefreshToken)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(deps.JWT))
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.GetCurrentUser)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.JWT))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"message": "qbtrader API", "version": "1.0.0"}`))
		})

		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", strategiesHandler.GetAvailableStrategies)
			r.Get("/active", strategiesHandler.GetActiveStrategies)
			r.Post("/", strategiesHandler.CreateStrategy)
			r.Get("/{strategyId}", strategiesHandler.GetStrategy)
			r.Put("/{strategyId}", strategiesHandler.UpdateStrategy)
			r.Delete("/{strategyId}", strategiesHandler.DeleteStrategy)
			r.Post("/{strategyId}/action", strategiesHandler.ControlStrategy)
			r.Get("/{strategyId}/performance", strategiesHandler.GetStrategyPerformance)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/summary", portfolioHandler.GetPortfolioSummary)
			r.Get("/positions", portfolioHandler.GetPositions)
			r.Get("/positions/{symbol}", portfolioHandler.GetPosition)
			r.Get("/performance", portfolioHandler.GetPortfolioPerformance)
			r.Get("/history", portfolioHandler.GetPortfolioHistory)
			r.Get("/allocation", portfolioHandler.GetPortfolioAllocation)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordersHandler.GetOrders)
			r.Get("/{orderId}", ordersHandler.GetOrder)
			r.Post("/{orderId}/cancel", ordersHandler.CancelOrder)
			r.Get("/{orderId}/trades", ordersHandler.GetTradesByOrder)
			r.Get("/queue/status", ordersHandler.GetQueueStatus)
		})

		r.Get("/trades", ordersHandler.GetTrades)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", systemHandler.GetSystemStatus)
			r.Get("/events", systemHandler.GetEventBusMetrics)
			r.Get("/circuit-breakers", systemHandler.GetCircuitBreakers)
			r.Get("/risk", systemHandler.GetRiskMetrics)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/logs", auditHandler.GetAuditLogs)
		})
	})

	// Serve static files from dashboard/dist (built React app)
	workDir, _ := os.Getwd()
	staticPath := filepath.Join(workDir, "dashboard", "dist")

	if _, err := os.Stat(staticPath); err == nil {
		fileServer := http.FileServer(http.Dir(staticPath))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			filePath := filepath.Join(staticPath, r.URL.Path)
			if _, err := os.Stat(filePath); os.IsNotExist(err) || strings.HasSuffix(r.URL.Path, "/") {
				http.ServeFile(w, r, filepath.Join(staticPath, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
		logger.Info().Str("path", staticPath).Msg("Serving static files from dashboard/dist")
	} else {
		logger.Warn().Str("path", staticPath).Msg("Dashboard dist directory not found - run 'cd dashboard && npm run build'")
	}

	addr := fmt.Sprintf("%s:%d", deps.Config.Host, deps.Config.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  deps.Config.ReadTimeout,
		WriteTimeout: deps.Config.WriteTimeout,
		IdleTimeout:  deps.Config.IdleTimeout,
	}

	return &Server{router: r, server: httpServer, logger: logger}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// LoggingMiddleware logs HTTP requests using zerolog
func LoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

type ctxKey int

const claimsCtxKey ctxKey = iota

// AuthMiddleware rejects requests without a valid bearer token and
// attaches the resolved claims to the request context for handlers
// that need the caller's identity.
func AuthMiddleware(jwtSvc *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				handlers.WriteUnauthorized(w)
				return
			}
			claims, err := jwtSvc.ValidateToken(header[len(prefix):])
			if err != nil {
				handlers.WriteUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
