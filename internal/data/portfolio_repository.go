package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PortfolioRepository handles portfolio data persistence
type PortfolioRepository struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *pgxpool.Pool, logger zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:     db,
		logger: logger,
	}
}

// Position is the durable mirror of one symbol's live position,
// written on every POSITION_UPDATED event and read back once at
// startup to rehydrate the position manager. Quantity is signed the
// same way the engine's own position book is (negative = short).
type Position struct {
	Symbol          string    `db:"symbol"`
	Quantity        int64     `db:"quantity"`
	AveragePrice    float64   `db:"average_price"`
	MarketPrice     float64   `db:"market_price"`
	UnrealizedPnL   float64   `db:"unrealized_pnl"`
	RealizedPnL     float64   `db:"realized_pnl"`
	TotalCommission float64   `db:"total_commission"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// PortfolioSummary represents portfolio overview
type PortfolioSummary struct {
	TotalValue      float64   `db:"total_value"`
	Cash            float64   `db:"cash"`
	PositionsValue  float64   `db:"positions_value"`
	TotalPnL        float64   `db:"total_pnl"`
	TotalPnLPercent float64   `db:"total_pnl_percent"`
	DayPnL          float64   `db:"day_pnl"`
	DayPnLPercent   float64   `db:"day_pnl_percent"`
	LastUpdated     time.Time `db:"last_updated"`
}

// InitSchema initializes the portfolio tables
func (r *PortfolioRepository) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS positions (
			symbol VARCHAR(10) PRIMARY KEY,
			quantity BIGINT NOT NULL,
			average_price DECIMAL(20, 8) NOT NULL,
			market_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_commission DECIMAL(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id SERIAL PRIMARY KEY,
			total_value DECIMAL(20, 2) NOT NULL,
			cash DECIMAL(20, 2) NOT NULL,
			positions_value DECIMAL(20, 2) NOT NULL,
			total_pnl DECIMAL(20, 2) NOT NULL,
			total_pnl_percent DECIMAL(10, 4) NOT NULL,
			day_pnl DECIMAL(20, 2) NOT NULL,
			day_pnl_percent DECIMAL(10, 4) NOT NULL,
			snapshot_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_time ON portfolio_snapshots(snapshot_time DESC);

		-- Initialize portfolio with default cash if empty
		INSERT INTO portfolio_snapshots (total_value, cash, positions_value, total_pnl, total_pnl_percent, day_pnl, day_pnl_percent)
		SELECT 100000.0, 100000.0, 0.0, 0.0, 0.0, 0.0, 0.0
		WHERE NOT EXISTS (SELECT 1 FROM portfolio_snapshots LIMIT 1);
	`

	_, err := r.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize portfolio schema: %w", err)
	}

	r.logger.Info().Msg("Portfolio schema initialized")
	return nil
}

// GetAllPositions returns every mirrored non-flat position, read once
// at startup to rehydrate the in-memory position manager.
func (r *PortfolioRepository) GetAllPositions(ctx context.Context) ([]Position, error) {
	query := `
		SELECT symbol, quantity, average_price, market_price,
			unrealized_pnl, realized_pnl, total_commission, updated_at
		FROM positions
		WHERE quantity != 0
		ORDER BY symbol
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var pos Position
		err := rows.Scan(&pos.Symbol, &pos.Quantity, &pos.AveragePrice, &pos.MarketPrice,
			&pos.UnrealizedPnL, &pos.RealizedPnL, &pos.TotalCommission, &pos.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}

	return positions, rows.Err()
}

// UpsertPosition writes one symbol's mirror row, called for every
// POSITION_UPDATED event.
func (r *PortfolioRepository) UpsertPosition(ctx context.Context, pos *Position) error {
	query := `
		INSERT INTO positions (symbol, quantity, average_price, market_price,
			unrealized_pnl, realized_pnl, total_commission, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_price = EXCLUDED.average_price,
			market_price = EXCLUDED.market_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			total_commission = EXCLUDED.total_commission,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Exec(ctx, query, pos.Symbol, pos.Quantity, pos.AveragePrice, pos.MarketPrice,
		pos.UnrealizedPnL, pos.RealizedPnL, pos.TotalCommission, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// GetSummary returns the latest portfolio summary
func (r *PortfolioRepository) GetSummary(ctx context.Context) (*PortfolioSummary, error) {
	query := `
		SELECT total_value, cash, positions_value, total_pnl, total_pnl_percent,
			   day_pnl, day_pnl_percent, snapshot_time as last_updated
		FROM portfolio_snapshots
		ORDER BY snapshot_time DESC
		LIMIT 1
	`

	var summary PortfolioSummary
	err := r.db.QueryRow(ctx, query).Scan(
		&summary.TotalValue, &summary.Cash, &summary.PositionsValue,
		&summary.TotalPnL, &summary.TotalPnLPercent,
		&summary.DayPnL, &summary.DayPnLPercent, &summary.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio summary: %w", err)
	}

	return &summary, nil
}

// SaveSnapshot saves a portfolio snapshot
func (r *PortfolioRepository) SaveSnapshot(ctx context.Context, summary *PortfolioSummary) error {
	query := `
		INSERT INTO portfolio_snapshots (total_value, cash, positions_value, total_pnl,
			total_pnl_percent, day_pnl, day_pnl_percent, snapshot_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		summary.TotalValue, summary.Cash, summary.PositionsValue,
		summary.TotalPnL, summary.TotalPnLPercent,
		summary.DayPnL, summary.DayPnLPercent, summary.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}

	return nil
}

// GetHistoricalSnapshots returns portfolio snapshots for a time range
func (r *PortfolioRepository) GetHistoricalSnapshots(ctx context.Context, startDate, endDate time.Time) ([]PortfolioSummary, error) {
	query := `
		SELECT total_value, cash, positions_value, total_pnl, total_pnl_percent,
			   day_pnl, day_pnl_percent, snapshot_time as last_updated
		FROM portfolio_snapshots
		WHERE snapshot_time BETWEEN $1 AND $2
		ORDER BY snapshot_time ASC
	`

	rows, err := r.db.Query(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []PortfolioSummary
	for rows.Next() {
		var snap PortfolioSummary
		err := rows.Scan(&snap.TotalValue, &snap.Cash, &snap.PositionsValue,
			&snap.TotalPnL, &snap.TotalPnLPercent,
			&snap.DayPnL, &snap.DayPnLPercent, &snap.LastUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// DeletePosition removes a position (when fully closed)
func (r *PortfolioRepository) DeletePosition(ctx context.Context, symbol string) error {
	query := `DELETE FROM positions WHERE symbol = $1`

	_, err := r.db.Exec(ctx, query, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	return nil
}
