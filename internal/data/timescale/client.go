package timescale

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/config"
	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Client wraps a PostgreSQL/TimescaleDB connection pool
type Client struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewClient creates a new TimescaleDB client with connection pooling
func NewClient(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Client, error) {
	// Create connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLife

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Int("max_conns", cfg.MaxConns).
		Msg("Connecting to TimescaleDB")

	// Create the connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().Msg("Successfully connected to TimescaleDB")

	return &Client{
		pool:   pool,
		logger: logger,
	}, nil
}

// Pool returns the underlying connection pool, shared with the
// repositories and state store that need raw pgx access.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close closes the database connection pool
func (c *Client) Close() {
	c.logger.Info().Msg("Closing database connection pool")
	c.pool.Close()
}

// Health checks if the database connection is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// InsertMarketData inserts market data into the database
// Uses UPSERT to handle duplicates (TimescaleDB hypertable)
func (c *Client) InsertMarketData(ctx context.Context, data *types.MarketData) error {
	query := `
		INSERT INTO market_data (symbol, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, timestamp) DO UPDATE
		SET open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	_, err := c.pool.Exec(ctx, query,
		data.Symbol,
		data.Timestamp,
		data.Open,
		data.High,
		data.Low,
		data.Close,
		data.Volume,
	)

	if err != nil {
		return fmt.Errorf("failed to insert market data: %w", err)
	}

	c.logger.Debug().
		Str("symbol", data.Symbol).
		Time("timestamp", data.Timestamp).
		Msg("Inserted market data")

	return nil
}

// GetMarketData retrieves market data for a symbol within a time range
func (c *Client) GetMarketData(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*types.MarketData, error) {
	query := `
		SELECT symbol, timestamp, open, high, low, close, volume
		FROM market_data
		WHERE symbol = $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4
	`

	rows, err := c.pool.Query(ctx, query, symbol, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query market data: %w", err)
	}
	defer rows.Close()

	var results []*types.MarketData

	for rows.Next() {
		var md types.MarketData
		err := rows.Scan(
			&md.Symbol,
			&md.Timestamp,
			&md.Open,
			&md.High,
			&md.Low,
			&md.Close,
			&md.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan market data: %w", err)
		}

		results = append(results, &md)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating market data: %w", err)
	}

	c.logger.Debug().
		Str("symbol", symbol).
		Int("count", len(results)).
		Msg("Retrieved market data")

	return results, nil
}

// GetLatestPrice gets the most recent close price for a symbol
func (c *Client) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	query := `
		SELECT close
		FROM market_data
		WHERE symbol = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var price float64
	err := c.pool.QueryRow(ctx, query, symbol).Scan(&price)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price: %w", err)
	}

	return price, nil
}

// Stats returns database statistics
func (c *Client) Stats() *pgxpool.Stat {
	return c.pool.Stat()
}
