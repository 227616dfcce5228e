package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// SaveForecastRun persiste el set completo de forecasts de un mercado y su gasto
// en LLM. O se escriben todas las filas o ninguna.
func (s *SQLiteStorage) SaveForecastRun(ctx context.Context, forecasts []domain.Forecast, costs []domain.LLMCost) ([]int64, error) {
	if len(forecasts) == 0 && len(costs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage.SaveForecastRun: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO forecasts
			(market_id, run_id, model, prompt_version, domain, probability, entropy,
			 entropy_source, ensemble_probability, confidence, news_used, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.SaveForecastRun: prepare: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(forecasts))
	for _, f := range forecasts {
		if f.Probability < 0 || f.Probability > 1 || f.EnsembleProbability < 0 || f.EnsembleProbability > 1 {
			return nil, fmt.Errorf("storage.SaveForecastRun: %s/%s: %w", f.MarketID, f.Model, domain.ErrInvalidProbability)
		}
		created := f.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		res, err := stmt.ExecContext(ctx,
			f.MarketID, f.RunID, f.Model, f.PromptVersion, string(f.Domain),
			f.Probability, f.Entropy, string(f.EntropySource), f.EnsembleProbability,
			string(f.Confidence), boolInt(f.NewsUsed), f.Reasoning, ts(created),
		)
		if err != nil {
			return nil, fmt.Errorf("storage.SaveForecastRun: insert %s/%s: %w", f.MarketID, f.Model, err)
		}
		id, _ := res.LastInsertId()
		ids = append(ids, id)
	}

	for _, c := range costs {
		if err := insertCost(ctx, tx, c, s.now()); err != nil {
			return nil, fmt.Errorf("storage.SaveForecastRun: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage.SaveForecastRun: commit: %w", err)
	}
	return ids, nil
}

// LatestEnsemble devuelve la probabilidad ensemble más reciente del mercado.
func (s *SQLiteStorage) LatestEnsemble(ctx context.Context, marketID string) (float64, bool, error) {
	var p float64
	err := s.db.QueryRowContext(ctx, `
		SELECT ensemble_probability FROM forecasts
		WHERE market_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, marketID).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage.LatestEnsemble: %w", err)
	}
	return p, true, nil
}

// ForecastsForMarket devuelve todas las filas de forecast de un mercado, antiguas primero.
func (s *SQLiteStorage) ForecastsForMarket(ctx context.Context, marketID string) ([]domain.Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, run_id, model, prompt_version, domain, probability, entropy,
		       entropy_source, ensemble_probability, confidence, news_used, reasoning, created_at
		FROM forecasts WHERE market_id = ?
		ORDER BY id
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("storage.ForecastsForMarket: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Forecast
	for rows.Next() {
		var (
			f                       domain.Forecast
			dom, src, conf, created string
			news                    int
		)
		if err := rows.Scan(&f.ID, &f.MarketID, &f.RunID, &f.Model, &f.PromptVersion, &dom,
			&f.Probability, &f.Entropy, &src, &f.EnsembleProbability, &conf, &news,
			&f.Reasoning, &created); err != nil {
			return nil, fmt.Errorf("storage.ForecastsForMarket: scan: %w", err)
		}
		f.Domain = domain.Domain(dom)
		f.EntropySource = domain.EntropySource(src)
		f.Confidence = domain.ConfidenceTier(conf)
		f.NewsUsed = news == 1
		f.CreatedAt = parseTS(created)
		out = append(out, f)
	}
	return out, rows.Err()
}
