package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCost(ctx context.Context, e execer, c domain.LLMCost, now time.Time) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	if _, err := e.ExecContext(ctx, `
		INSERT INTO llm_costs (model, purpose, market_id, tokens_in, tokens_out, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.Model, c.Purpose, c.MarketID, c.TokensIn, c.TokensOut, c.CostUSD, ts(created)); err != nil {
		return fmt.Errorf("insert llm cost %s: %w", c.Model, err)
	}
	return nil
}

// SaveLLMCost registra una llamada suelta (clasificador, evolución de prompts).
func (s *SQLiteStorage) SaveLLMCost(ctx context.Context, c domain.LLMCost) error {
	if err := insertCost(ctx, s.db, c, s.now()); err != nil {
		return fmt.Errorf("storage.SaveLLMCost: %w", err)
	}
	return nil
}

// CostSummary agrega el gasto por modelo desde since, mayor gasto primero.
func (s *SQLiteStorage) CostSummary(ctx context.Context, since time.Time) ([]domain.ModelCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)
		FROM llm_costs
		WHERE created_at >= ?
		GROUP BY model
		ORDER BY SUM(cost_usd) DESC
	`, ts(since))
	if err != nil {
		return nil, fmt.Errorf("storage.CostSummary: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelCost
	for rows.Next() {
		var c domain.ModelCost
		if err := rows.Scan(&c.Model, &c.Calls, &c.TokensIn, &c.TokensOut, &c.CostUSD); err != nil {
			return nil, fmt.Errorf("storage.CostSummary: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
