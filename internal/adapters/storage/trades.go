package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Portfolio devuelve el singleton de caja. Si no se inicializó devuelve ceros.
func (s *SQLiteStorage) Portfolio(ctx context.Context) (domain.PortfolioState, error) {
	var (
		p       domain.PortfolioState
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT cash, total_value, updated_at FROM portfolio_state WHERE id = 1`,
	).Scan(&p.Cash, &p.TotalValue, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PortfolioState{}, nil
	}
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("storage.Portfolio: %w", err)
	}
	p.UpdatedAt = parseTS(updated)
	return p, nil
}

// OpenTrades devuelve las posiciones abiertas, más antiguas primero.
func (s *SQLiteStorage) OpenTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, COALESCE(forecast_id, 0), side, size, fill_price, shares,
		       kelly_fraction, edge, is_paper, order_id, status, pnl, created_at, closed_at
		FROM trades WHERE status = 'OPEN'
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.OpenTrades: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OpenTradeCount cuenta las posiciones abiertas.
func (s *SQLiteStorage) OpenTradeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE status = 'OPEN'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.OpenTradeCount: %w", err)
	}
	return n, nil
}

// HasOpenTrade devuelve true si ya hay una posición abierta en (mercado, lado).
func (s *SQLiteStorage) HasOpenTrade(ctx context.Context, marketID string, side domain.Side) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE market_id = ? AND side = ? AND status = 'OPEN'`,
		marketID, string(side),
	).Scan(&n); err != nil {
		return false, fmt.Errorf("storage.HasOpenTrade: %w", err)
	}
	return n > 0, nil
}

// RecordTrade inserta el trade y debita la caja en una transacción.
// Un trade live sin OrderID no tiene fill confirmado y se rechaza.
func (s *SQLiteStorage) RecordTrade(ctx context.Context, t domain.Trade) error {
	if !t.IsPaper && t.OrderID == "" {
		return fmt.Errorf("storage.RecordTrade: %s: %w", t.MarketID, domain.ErrUnconfirmedFill)
	}
	if t.Size <= 0 || t.FillPrice <= 0 || t.FillPrice >= 1 {
		return fmt.Errorf("storage.RecordTrade: %s: invalid size %.4f or price %.4f", t.MarketID, t.Size, t.FillPrice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.RecordTrade: begin tx: %w", err)
	}
	defer tx.Rollback()

	var cash float64
	err = tx.QueryRowContext(ctx, `SELECT cash FROM portfolio_state WHERE id = 1`).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.RecordTrade: portfolio not initialized: %w", domain.ErrNegativeCash)
	}
	if err != nil {
		return fmt.Errorf("storage.RecordTrade: read cash: %w", err)
	}

	newCash := decimal.NewFromFloat(cash).Sub(decimal.NewFromFloat(t.Size)).Round(2)
	if newCash.IsNegative() {
		return fmt.Errorf("storage.RecordTrade: cash %.2f, size %.2f: %w", cash, t.Size, domain.ErrNegativeCash)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var forecastID any
	if t.ForecastID > 0 {
		forecastID = t.ForecastID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, market_id, forecast_id, side, size, fill_price, shares, kelly_fraction,
			 edge, is_paper, order_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', ?)
	`, t.ID, t.MarketID, forecastID, string(t.Side), t.Size, t.FillPrice, t.Shares,
		t.KellyFraction, t.Edge, boolInt(t.IsPaper), t.OrderID, ts(created),
	); err != nil {
		return fmt.Errorf("storage.RecordTrade: insert %s: %w", t.MarketID, err)
	}

	if err := writePortfolio(ctx, tx, newCash, ts(s.now())); err != nil {
		return fmt.Errorf("storage.RecordTrade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.RecordTrade: commit: %w", err)
	}
	return nil
}

// SettleMarket cierra las posiciones abiertas de un mercado resuelto y acredita
// el payout (1 USD por share ganadora) en la misma transacción.
func (s *SQLiteStorage) SettleMarket(ctx context.Context, marketID string, outcome domain.Side) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.SettleMarket: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, market_id, COALESCE(forecast_id, 0), side, size, fill_price, shares,
		       kelly_fraction, edge, is_paper, order_id, status, pnl, created_at, closed_at
		FROM trades WHERE market_id = ? AND status = 'OPEN'
	`, marketID)
	if err != nil {
		return 0, fmt.Errorf("storage.SettleMarket: query: %w", err)
	}
	var open []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("storage.SettleMarket: scan: %w", err)
		}
		open = append(open, t)
	}
	rows.Close()
	if len(open) == 0 {
		return 0, nil
	}

	var cash float64
	if err := tx.QueryRowContext(ctx, `SELECT cash FROM portfolio_state WHERE id = 1`).Scan(&cash); err != nil {
		return 0, fmt.Errorf("storage.SettleMarket: read cash: %w", err)
	}
	newCash := decimal.NewFromFloat(cash)
	now := ts(s.now())

	for _, t := range open {
		payout := decimal.NewFromFloat(t.Payout(outcome)).Round(2)
		pnl := payout.Sub(decimal.NewFromFloat(t.Size))
		if _, err := tx.ExecContext(ctx,
			`UPDATE trades SET status = 'CLOSED', pnl = ?, closed_at = ? WHERE id = ?`,
			pnl.InexactFloat64(), now, t.ID,
		); err != nil {
			return 0, fmt.Errorf("storage.SettleMarket: close %s: %w", t.ID, err)
		}
		newCash = newCash.Add(payout)
	}

	if err := writePortfolio(ctx, tx, newCash.Round(2), now); err != nil {
		return 0, fmt.Errorf("storage.SettleMarket: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.SettleMarket: commit: %w", err)
	}
	return len(open), nil
}

// writePortfolio fija la caja y recalcula el valor total a coste:
// caja + lo invertido en posiciones abiertas.
func writePortfolio(ctx context.Context, tx *sql.Tx, cash decimal.Decimal, now string) error {
	var invested float64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM trades WHERE status = 'OPEN'`,
	).Scan(&invested); err != nil {
		return fmt.Errorf("sum open positions: %w", err)
	}
	total := cash.Add(decimal.NewFromFloat(invested)).Round(2)
	if _, err := tx.ExecContext(ctx,
		`UPDATE portfolio_state SET cash = ?, total_value = ?, updated_at = ? WHERE id = 1`,
		cash.InexactFloat64(), total.InexactFloat64(), now,
	); err != nil {
		return fmt.Errorf("update portfolio: %w", err)
	}
	return nil
}

func scanTrade(r rowScanner) (domain.Trade, error) {
	var (
		t               domain.Trade
		side, status    string
		isPaper         int
		created, closed string
	)
	if err := r.Scan(&t.ID, &t.MarketID, &t.ForecastID, &side, &t.Size, &t.FillPrice, &t.Shares,
		&t.KellyFraction, &t.Edge, &isPaper, &t.OrderID, &status, &t.PnL, &created, &closed); err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	t.IsPaper = isPaper == 1
	t.CreatedAt = parseTS(created)
	t.ClosedAt = parseTS(closed)
	return t, nil
}
