// Command qbtrader wires the event-driven trading engine together:
// configuration, the shared state store, persistence repositories,
// the paper broker, the compiled strategy registry, and the HTTP
// control plane, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/internal/api"
	"github.com/bikeshrana/qbtrader/internal/audit"
	"github.com/bikeshrana/qbtrader/internal/auth"
	"github.com/bikeshrana/qbtrader/internal/broker"
	"github.com/bikeshrana/qbtrader/internal/broker/paper"
	"github.com/bikeshrana/qbtrader/internal/circuitbreaker"
	"github.com/bikeshrana/qbtrader/internal/config"
	"github.com/bikeshrana/qbtrader/internal/core/commission"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/execution"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/core/position"
	"github.com/bikeshrana/qbtrader/internal/core/risk"
	"github.com/bikeshrana/qbtrader/internal/core/strategy"
	"github.com/bikeshrana/qbtrader/internal/core/strategy/crossover"
	"github.com/bikeshrana/qbtrader/internal/core/strategy/momentum"
	"github.com/bikeshrana/qbtrader/internal/core/strategy/performance"
	"github.com/bikeshrana/qbtrader/internal/data"
	"github.com/bikeshrana/qbtrader/internal/data/timescale"
	"github.com/bikeshrana/qbtrader/internal/marketdata/wsfeed"
	"github.com/bikeshrana/qbtrader/internal/metrics"
	"github.com/bikeshrana/qbtrader/internal/state/pgstore"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Msg("qbtrader: starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := timescale.NewClient(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to connect to database")
	}
	defer db.Close()
	pool := db.Pool()

	store := pgstore.New(pool, logger)
	if err := store.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init state store schema")
	}
	bus := events.NewEventBus(cfg.EventBus.ToEventsConfig(), logger)
	defer bus.Close()

	breakers := circuitbreaker.NewManager(logger)
	breakers.GetOrCreate("database", circuitbreaker.DefaultDatabaseConfig())
	breakers.GetOrCreate("broker", circuitbreaker.DefaultExternalAPIConfig())

	tradingMetrics := metrics.NewTradingMetrics()

	// Repositories and auth/audit infrastructure.
	users := data.NewUserRepository(pool, logger)
	if err := users.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init user schema")
	}
	ordersRepo := data.NewOrdersRepository(pool, logger)
	if err := ordersRepo.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init orders schema")
	}
	strategiesRepo := data.NewStrategiesRepository(pool, logger)
	if err := strategiesRepo.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init strategies schema")
	}
	portfolioRepo := data.NewPortfolioRepository(pool, logger)
	if err := portfolioRepo.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init portfolio schema")
	}

	auditLogger := audit.NewAuditLogger(pool, logger)
	if err := auditLogger.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to init audit schema")
	}
	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, logger)

	// Domain core.
	calc := commission.NewKoreanEquityCalculator(cfg.Commission.ToSchedule())
	posMgr := position.New(store, logger)
	restorePositions(ctx, portfolioRepo, posMgr, logger)

	brokerAdapter, err := newBrokerAdapter(cfg, calc, bus, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("qbtrader: failed to initialize broker adapter")
	}

	riskMgr := risk.New(cfg.Risk.ToRiskLimits(), posMgr, brokerAdapter, logger)

	queue := orderqueue.New(cfg.OrderQueue.ToOrderQueueConfig(), store, logger)
	if err := queue.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("qbtrader: failed to restore order queue")
	}

	tracker := execution.NewTracker(bus, logger, cfg.Execution.MaxPartialFillTime)

	orderEngine := execution.NewEngine(
		cfg.OrderEngine.ToExecutionConfig(), bus, store, queue, posMgr, brokerAdapter, calc, riskMgr, tracker, ordersRepo, logger,
	)

	loader := strategy.NewLoader()
	loader.Register(momentum.Name, momentum.Schema(), momentum.NewConstructor(store, logger))
	loader.Register(crossover.Name, crossover.Schema(), crossover.NewConstructor(logger))
	strategyEngine := strategy.NewEngine(bus, store, loader, logger)
	perfTracker := performance.New()

	feed := wsfeed.New(cfg.MarketData.WebsocketURL, bus, logger)
	if len(cfg.Trading.Symbols) > 0 {
		if err := feed.Subscribe(ctx, cfg.Trading.Symbols); err != nil {
			logger.Warn().Err(err).Msg("qbtrader: failed to subscribe market data feed")
		}
	}

	strategyEngine.Start()
	orderEngine.Start(ctx) // also launches the tracker's stale-partial sweeper
	go recordSignalsForPerformance(ctx, bus, perfTracker)
	go mirrorPositions(ctx, bus, portfolioRepo, logger)
	tradingMetrics.Wire(ctx, bus, breakers, posMgr, logger)

	server := api.NewServer(&api.Deps{
		Config: &cfg.Server, DB: db, Bus: bus, Metrics: tradingMetrics, Breakers: breakers, Risk: riskMgr,
		JWT: jwtSvc, Users: users, AuditLogger: auditLogger,
		StrategyEngine: strategyEngine, StrategyLoader: loader, Performance: perfTracker, Strategies: strategiesRepo,
		Positions: posMgr, Broker: brokerAdapter, Portfolio: portfolioRepo,
		Orders: ordersRepo, Queue: queue,
		Logger: logger,
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("qbtrader: shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("qbtrader: HTTP server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("qbtrader: server shutdown error")
	}
	orderEngine.Shutdown(shutdownCtx)
	tracker.Stop()
	_ = feed.Close()

	logger.Info().Msg("qbtrader: stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newBrokerAdapter(cfg *config.Config, calc *commission.Calculator, bus *events.EventBus, logger zerolog.Logger) (broker.Adapter, error) {
	if !cfg.Trading.PaperTrading {
		logger.Warn().Msg("qbtrader: live broker adapters are not implemented, falling back to paper trading")
	}
	b, err := paper.New(cfg.Trading.PaperBookPath, decimal.NewFromFloat(cfg.Trading.InitialCash), calc, bus, logger)
	if err != nil {
		return nil, err
	}
	b.Start()
	return b, nil
}

// restorePositions rehydrates the in-memory position book from the
// positions mirror written by mirrorPositions before the last shutdown.
func restorePositions(ctx context.Context, repo *data.PortfolioRepository, posMgr *position.Manager, logger zerolog.Logger) {
	rows, err := repo.GetAllPositions(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("qbtrader: failed to restore positions from mirror")
		return
	}
	for _, row := range rows {
		posMgr.Restore(types.Position{
			Symbol:          row.Symbol,
			Quantity:        row.Quantity,
			AveragePrice:    decimal.NewFromFloat(row.AveragePrice),
			MarketPrice:     decimal.NewFromFloat(row.MarketPrice),
			UnrealizedPnL:   decimal.NewFromFloat(row.UnrealizedPnL),
			RealizedPnL:     decimal.NewFromFloat(row.RealizedPnL),
			TotalCommission: decimal.NewFromFloat(row.TotalCommission),
			UpdatedAt:       row.UpdatedAt,
		})
	}
	if len(rows) > 0 {
		logger.Info().Int("count", len(rows)).Msg("qbtrader: restored positions from mirror")
	}
}

// mirrorPositions keeps the durable positions table in step with the
// live position book: every POSITION_UPDATED event upserts the
// symbol's row, and a position going flat deletes it.
func mirrorPositions(ctx context.Context, bus *events.EventBus, repo *data.PortfolioRepository, logger zerolog.Logger) {
	id, ch := bus.Subscribe(events.EventTypePositionUpdated, nil, "position-mirror")
	defer bus.Unsubscribe(events.EventTypePositionUpdated, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.PositionUpdatedPayload)
			if !ok {
				continue
			}
			p := payload.Position
			if p.IsFlat() {
				if err := repo.DeletePosition(ctx, p.Symbol); err != nil {
					logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("qbtrader: failed to delete flat position mirror")
				}
				continue
			}
			row := &data.Position{
				Symbol: p.Symbol, Quantity: p.Quantity, UpdatedAt: p.UpdatedAt,
			}
			row.AveragePrice, _ = p.AveragePrice.Float64()
			row.MarketPrice, _ = p.MarketPrice.Float64()
			row.UnrealizedPnL, _ = p.UnrealizedPnL.Float64()
			row.RealizedPnL, _ = p.RealizedPnL.Float64()
			row.TotalCommission, _ = p.TotalCommission.Float64()
			if err := repo.UpsertPosition(ctx, row); err != nil {
				logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("qbtrader: failed to mirror position")
			}
		}
	}
}

func recordSignalsForPerformance(ctx context.Context, bus *events.EventBus, perf *performance.Tracker) {
	id, ch := bus.Subscribe(events.EventTypeTradingSignal, nil, "performance-tracker")
	defer bus.Unsubscribe(events.EventTypeTradingSignal, id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := event.Data.(events.TradingSignalPayload)
			if !ok {
				continue
			}
			perf.RecordSignal(payload.Signal)
		}
	}
}

