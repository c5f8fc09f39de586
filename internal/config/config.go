// Package config loads the application's configuration surface via
// viper: a YAML file overridden by QB_-prefixed environment variables,
// unmarshalled into typed structs with sensible defaults, covering the
// Order Engine / Order Queue / Commission / Event Bus config surface
// this module has.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/bikeshrana/qbtrader/internal/core/commission"
	"github.com/bikeshrana/qbtrader/internal/core/events"
	"github.com/bikeshrana/qbtrader/internal/core/execution"
	"github.com/bikeshrana/qbtrader/internal/core/orderqueue"
	"github.com/bikeshrana/qbtrader/internal/core/risk"
)

// Config holds every top-level configuration section.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
	OrderEngine OrderEngineConfig `mapstructure:"order_engine"`
	OrderQueue OrderQueueConfig `mapstructure:"order_queue"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Commission CommissionConfig `mapstructure:"commission"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL/TimescaleDB connection settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
}

// ConnectionString builds a libpq-style DSN from the database config.
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// AuthConfig holds JWT issuing configuration.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// EventBusConfig mirrors events.Config's fields for viper binding.
type EventBusConfig struct {
	BufferSize           int           `mapstructure:"buffer_size"`
	MaxWorkers           int           `mapstructure:"max_workers"`
	BatchSize            int           `mapstructure:"batch_size"`
	BatchTimeout         time.Duration `mapstructure:"batch_timeout"`
	EnableCircuitBreaker bool          `mapstructure:"enable_circuit_breaker"`
	EnableDeadLetterQueue bool         `mapstructure:"enable_dead_letter_queue"`
	DeadLetterCapacity   int           `mapstructure:"dead_letter_capacity"`
	BreakerMaxFailures   int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout       time.Duration `mapstructure:"breaker_timeout"`
}

// ToEventsConfig translates the viper-bound section into events.Config.
func (c EventBusConfig) ToEventsConfig() events.Config {
	return events.Config{
		BufferSize:           c.BufferSize,
		MaxWorkers:           c.MaxWorkers,
		BatchSize:            c.BatchSize,
		BatchTimeout:         c.BatchTimeout,
		EnableCircuitBreaker: c.EnableCircuitBreaker,
		EnableDeadLetter:     c.EnableDeadLetterQueue,
		DeadLetterCapacity:   c.DeadLetterCapacity,
		BreakerMaxFailures:   c.BreakerMaxFailures,
		BreakerTimeout:       c.BreakerTimeout,
	}
}

// OrderEngineConfig mirrors execution.Config's fields. Monetary fields
// are floats at the configuration boundary and converted to
// decimal.Decimal when building the domain config, keeping every
// monetary computation inside the engine on the decimal type.
type OrderEngineConfig struct {
	MaxOrderValue    float64       `mapstructure:"max_order_value"`
	MinOrderQuantity int64         `mapstructure:"min_order_quantity"`
	MaxOrderQuantity int64         `mapstructure:"max_order_quantity"`
	MaxPositionCount int           `mapstructure:"max_position_count"`
	WorkerPoolSize   int           `mapstructure:"worker_pool_size"`
	OrderTimeout     time.Duration `mapstructure:"order_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// ToExecutionConfig translates the viper-bound section into execution.Config.
func (c OrderEngineConfig) ToExecutionConfig() execution.Config {
	return execution.Config{
		MaxOrderValue:    decimal.NewFromFloat(c.MaxOrderValue),
		MinOrderQuantity: c.MinOrderQuantity,
		MaxOrderQuantity: c.MaxOrderQuantity,
		MaxPositionCount: c.MaxPositionCount,
		WorkerPoolSize:   c.WorkerPoolSize,
		OrderTimeout:     c.OrderTimeout,
		MaxRetries:       c.MaxRetries,
		InitialBackoff:   c.InitialBackoff,
		PollInterval:     c.PollInterval,
	}
}

// OrderQueueConfig mirrors orderqueue.Config's fields.
type OrderQueueConfig struct {
	MaxQueueSize        int            `mapstructure:"max_queue_size"`
	MaxConcurrentOrders int            `mapstructure:"max_concurrent_orders"`
	PriorityTimeout     time.Duration  `mapstructure:"priority_timeout"`
	StrategyPriorities  map[string]int `mapstructure:"strategy_priorities"`
	MarketCloseHour     int            `mapstructure:"market_close_hour"`
	MarketCloseMinute   int            `mapstructure:"market_close_minute"`
}

// ToOrderQueueConfig translates the viper-bound section into orderqueue.Config.
func (c OrderQueueConfig) ToOrderQueueConfig() orderqueue.Config {
	return orderqueue.Config{
		MaxQueueSize:        c.MaxQueueSize,
		MaxConcurrentOrders: c.MaxConcurrentOrders,
		PriorityTimeout:     c.PriorityTimeout,
		StrategyPriorities:  c.StrategyPriorities,
		MarketCloseHour:     c.MarketCloseHour,
		MarketCloseMinute:   c.MarketCloseMinute,
	}
}

// RiskConfig mirrors risk.Limits' fields: the full set of position,
// exposure, and daily-loss limits the risk manager checks.
type RiskConfig struct {
	MaxPositionSize  int64   `mapstructure:"max_position_size"`
	MaxPositionValue float64 `mapstructure:"max_position_value"`
	MaxConcentration float64 `mapstructure:"max_concentration"`
	MaxTotalExposure float64 `mapstructure:"max_total_exposure"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"`
	MaxDrawdown      float64 `mapstructure:"max_drawdown"`
	MaxOrdersPerDay  int     `mapstructure:"max_orders_per_day"`
	MaxOrderSize     int64   `mapstructure:"max_order_size"`
	MaxOrderValue    float64 `mapstructure:"max_order_value"`
	MinCashBalance   float64 `mapstructure:"min_cash_balance"`
	MarginRequirement float64 `mapstructure:"margin_requirement"`
	AllowAfterHours  bool    `mapstructure:"allow_after_hours"`
	TradingStartHour int     `mapstructure:"trading_start_hour"`
	TradingEndHour   int     `mapstructure:"trading_end_hour"`
}

// ToRiskLimits translates the viper-bound section into risk.Limits.
func (c RiskConfig) ToRiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSize:   c.MaxPositionSize,
		MaxPositionValue:  decimal.NewFromFloat(c.MaxPositionValue),
		MaxConcentration:  c.MaxConcentration,
		MaxTotalExposure:  decimal.NewFromFloat(c.MaxTotalExposure),
		MaxDailyLoss:      decimal.NewFromFloat(c.MaxDailyLoss),
		MaxDrawdown:       c.MaxDrawdown,
		MaxOrdersPerDay:   c.MaxOrdersPerDay,
		MaxOrderSize:      c.MaxOrderSize,
		MaxOrderValue:     decimal.NewFromFloat(c.MaxOrderValue),
		MinCashBalance:    decimal.NewFromFloat(c.MinCashBalance),
		MarginRequirement: c.MarginRequirement,
		AllowAfterHours:   c.AllowAfterHours,
		TradingStartHour:  c.TradingStartHour,
		TradingEndHour:    c.TradingEndHour,
	}
}

// CommissionConfig mirrors commission.Schedule's fields.
type CommissionConfig struct {
	BrokerageRate              float64 `mapstructure:"brokerage_rate"`
	MinBrokerageFee            float64 `mapstructure:"min_brokerage_fee"`
	TransactionTaxRate         float64 `mapstructure:"transaction_tax_rate"`
	RuralTaxRate               float64 `mapstructure:"rural_tax_rate"`
	ExchangeFeeRate            float64 `mapstructure:"exchange_fee_rate"`
	ClearingFeeRate            float64 `mapstructure:"clearing_fee_rate"`
	MinCurrencyUnit            float64 `mapstructure:"min_currency_unit"`
	VIPDiscountRate            float64 `mapstructure:"vip_discount_rate"`
	OnlineDiscountRate         float64 `mapstructure:"online_discount_rate"`
	FrequentTraderDiscountRate float64 `mapstructure:"frequent_trader_discount_rate"`
	MaxDiscountRate            float64 `mapstructure:"max_discount_rate"`
}

// ToSchedule translates the viper-bound section into commission.Schedule.
func (c CommissionConfig) ToSchedule() commission.Schedule {
	return commission.Schedule{
		BrokerageRate:              decimal.NewFromFloat(c.BrokerageRate),
		MinBrokerageFee:            decimal.NewFromFloat(c.MinBrokerageFee),
		TransactionTaxRate:         decimal.NewFromFloat(c.TransactionTaxRate),
		RuralTaxRate:               decimal.NewFromFloat(c.RuralTaxRate),
		ExchangeFeeRate:            decimal.NewFromFloat(c.ExchangeFeeRate),
		ClearingFeeRate:            decimal.NewFromFloat(c.ClearingFeeRate),
		MinCurrencyUnit:            decimal.NewFromFloat(c.MinCurrencyUnit),
		VIPDiscountRate:            decimal.NewFromFloat(c.VIPDiscountRate),
		OnlineDiscountRate:         decimal.NewFromFloat(c.OnlineDiscountRate),
		FrequentTraderDiscountRate: decimal.NewFromFloat(c.FrequentTraderDiscountRate),
		MaxDiscountRate:            decimal.NewFromFloat(c.MaxDiscountRate),
	}
}

// ExecutionConfig holds the Execution Tracker / Fill Monitor tunables.
type ExecutionConfig struct {
	MaxFillDelay          time.Duration `mapstructure:"max_fill_delay"`
	MaxPartialFillTime    time.Duration `mapstructure:"max_partial_fill_time"`
	UnusualPriceThreshold float64       `mapstructure:"unusual_price_threshold"`
	MinFillSize           int64         `mapstructure:"min_fill_size"`
	MaxFillsPerOrder      int           `mapstructure:"max_fills_per_order"`
}

// TradingConfig holds top-level trading/demo settings and the
// strategy plug-in directory path, kept as a configuration surface
// field even though loader.go's compiled registry replaces runtime
// directory scanning.
type TradingConfig struct {
	InitialCash       float64 `mapstructure:"initial_cash"`
	PaperTrading      bool    `mapstructure:"paper_trading"`
	PaperBookPath     string  `mapstructure:"paper_book_path"`
	StrategyPluginDir string  `mapstructure:"strategy_plugin_dir"`
	Symbols           []string `mapstructure:"symbols"`
}

// LoggingConfig holds zerolog configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	TimeFormat string `mapstructure:"time_format"`
}

// MarketDataConfig holds the live bar feed's connection settings.
type MarketDataConfig struct {
	WebsocketURL string `mapstructure:"websocket_url"`
}

// Load reads configuration from configPath (YAML), falling back to
// defaults for anything unset, then lets QB_-prefixed environment
// variables override the result (e.g. QB_DATABASE_PASSWORD).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("QB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// GetDefaultConfig returns the full configuration with every section
// at its default value. Load does not call it; it applies the same
// defaults itself through setDefaults.
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "qbtrader")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "qbtrader")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_life", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)

	v.SetDefault("event_bus.buffer_size", 256)
	v.SetDefault("event_bus.max_workers", 10)
	v.SetDefault("event_bus.batch_size", 50)
	v.SetDefault("event_bus.batch_timeout", 100*time.Millisecond)
	v.SetDefault("event_bus.enable_circuit_breaker", true)
	v.SetDefault("event_bus.enable_dead_letter_queue", true)
	v.SetDefault("event_bus.dead_letter_capacity", 1000)
	v.SetDefault("event_bus.breaker_max_failures", 5)
	v.SetDefault("event_bus.breaker_timeout", 30*time.Second)

	v.SetDefault("order_engine.max_order_value", 25_000.0)
	v.SetDefault("order_engine.min_order_quantity", 1)
	v.SetDefault("order_engine.max_order_quantity", 10_000)
	v.SetDefault("order_engine.max_position_count", 20)
	v.SetDefault("order_engine.worker_pool_size", 10)
	v.SetDefault("order_engine.order_timeout", 30*time.Second)
	v.SetDefault("order_engine.max_retries", 3)
	v.SetDefault("order_engine.initial_backoff", 500*time.Millisecond)
	v.SetDefault("order_engine.poll_interval", 100*time.Millisecond)

	v.SetDefault("order_queue.max_queue_size", 1000)
	v.SetDefault("order_queue.max_concurrent_orders", 10)
	v.SetDefault("order_queue.priority_timeout", 5*time.Minute)
	v.SetDefault("order_queue.market_close_hour", 15)
	v.SetDefault("order_queue.market_close_minute", 20)

	v.SetDefault("risk.max_position_size", 1000)
	v.SetDefault("risk.max_position_value", 50_000.0)
	v.SetDefault("risk.max_concentration", 0.20)
	v.SetDefault("risk.max_total_exposure", 500_000.0)
	v.SetDefault("risk.max_daily_loss", 5_000.0)
	v.SetDefault("risk.max_drawdown", 0.15)
	v.SetDefault("risk.max_orders_per_day", 100)
	v.SetDefault("risk.max_order_size", 500)
	v.SetDefault("risk.max_order_value", 25_000.0)
	v.SetDefault("risk.min_cash_balance", 10_000.0)
	v.SetDefault("risk.margin_requirement", 0.5)
	v.SetDefault("risk.allow_after_hours", false)
	v.SetDefault("risk.trading_start_hour", 9)
	v.SetDefault("risk.trading_end_hour", 16)

	v.SetDefault("commission.brokerage_rate", 0.00015)
	v.SetDefault("commission.min_brokerage_fee", 100.0)
	v.SetDefault("commission.transaction_tax_rate", 0.0023)
	v.SetDefault("commission.rural_tax_rate", 0.2)
	v.SetDefault("commission.exchange_fee_rate", 0.000008)
	v.SetDefault("commission.clearing_fee_rate", 0.0000154)
	v.SetDefault("commission.min_currency_unit", 0.01)
	v.SetDefault("commission.vip_discount_rate", 0.5)
	v.SetDefault("commission.online_discount_rate", 0.2)
	v.SetDefault("commission.frequent_trader_discount_rate", 0.1)
	v.SetDefault("commission.max_discount_rate", 0.8)

	v.SetDefault("execution.max_fill_delay", 60*time.Second)
	v.SetDefault("execution.max_partial_fill_time", 10*time.Minute)
	v.SetDefault("execution.unusual_price_threshold", 0.10)
	v.SetDefault("execution.min_fill_size", int64(1))
	v.SetDefault("execution.max_fills_per_order", 100)

	v.SetDefault("trading.initial_cash", 100_000.0)
	v.SetDefault("trading.paper_trading", true)
	v.SetDefault("trading.paper_book_path", "./qbtrader-paper.db")
	v.SetDefault("trading.strategy_plugin_dir", "./strategies")
	v.SetDefault("trading.symbols", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("market_data.websocket_url", "ws://localhost:8765/stream")
}
