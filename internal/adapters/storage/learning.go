package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
)

// domainThresholdModel es la fila de calibration_state que guarda el τ del dominio.
const domainThresholdModel = "*"

// OutcomesSince devuelve los outcomes resueltos desde since. Las filas con
// campos nulos o fuera de rango se saltan y se cuentan en skipped.
func (s *SQLiteStorage) OutcomesSince(ctx context.Context, since time.Time) ([]domain.Outcome, int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, forecast_id, model, prompt_version, domain, predicted, actual,
		       brier, entropy, entropy_source, resolved_at
		FROM outcomes
		WHERE resolved_at >= ?
		ORDER BY resolved_at, id
	`, ts(since))
	if err != nil {
		return nil, 0, fmt.Errorf("storage.OutcomesSince: query: %w", err)
	}
	defer rows.Close()

	var (
		out     []domain.Outcome
		skipped int
	)
	for rows.Next() {
		var (
			o                             domain.Outcome
			model, version, dom, src      sql.NullString
			predicted, actual, brier, ent sql.NullFloat64
			resolved                      string
		)
		if err := rows.Scan(&o.ID, &o.MarketID, &o.ForecastID, &model, &version, &dom,
			&predicted, &actual, &brier, &ent, &src, &resolved); err != nil {
			skipped++
			continue
		}
		if !model.Valid || model.String == "" || !predicted.Valid || !actual.Valid {
			skipped++
			continue
		}
		if predicted.Float64 < 0 || predicted.Float64 > 1 || (actual.Float64 != 0 && actual.Float64 != 1) {
			skipped++
			continue
		}
		o.Model = model.String
		o.PromptVersion = version.String
		o.Domain = domain.Domain(dom.String)
		o.Predicted = predicted.Float64
		o.Actual = actual.Float64
		o.Brier = brier.Float64
		if !brier.Valid || math.IsNaN(brier.Float64) {
			o.Brier = domain.BrierScore(o.Predicted, o.Actual)
		}
		o.Entropy = ent.Float64
		o.EntropySource = domain.EntropySource(src.String)
		o.ResolvedAt = parseTS(resolved)
		out = append(out, o)
	}
	return out, skipped, rows.Err()
}

// CountOutcomesSince cuenta outcomes resueltos desde since.
func (s *SQLiteStorage) CountOutcomesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outcomes WHERE resolved_at >= ?`, ts(since),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CountOutcomesSince: %w", err)
	}
	return n, nil
}

// CalibrationStates devuelve el estado por (dominio, modelo) con el τ del dominio resuelto.
func (s *SQLiteStorage) CalibrationStates(ctx context.Context) ([]domain.CalibrationState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.domain, c.model, c.brier_score, c.resolved_count, c.domain_weight,
		       COALESCE(t.entropy_threshold, 0), c.alert, c.updated_at
		FROM calibration_state c
		LEFT JOIN calibration_state t ON t.domain = c.domain AND t.model = ?
		WHERE c.model != ?
		ORDER BY c.domain, c.model
	`, domainThresholdModel, domainThresholdModel)
	if err != nil {
		return nil, fmt.Errorf("storage.CalibrationStates: query: %w", err)
	}
	defer rows.Close()

	var out []domain.CalibrationState
	for rows.Next() {
		var (
			c            domain.CalibrationState
			dom, updated string
			alert        int
		)
		if err := rows.Scan(&dom, &c.Model, &c.BrierScore, &c.ResolvedCount, &c.DomainWeight,
			&c.EntropyThreshold, &alert, &updated); err != nil {
			return nil, fmt.Errorf("storage.CalibrationStates: scan: %w", err)
		}
		c.Domain = domain.Domain(dom)
		c.Alert = alert == 1
		c.UpdatedAt = parseTS(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveCalibration hace upsert de los estados en una transacción.
// No toca el τ del dominio: ese solo lo escribe SetDomainThreshold.
func (s *SQLiteStorage) SaveCalibration(ctx context.Context, states []domain.CalibrationState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveCalibration: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calibration_state (domain, model, brier_score, resolved_count, domain_weight, alert, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, model) DO UPDATE SET
			brier_score    = excluded.brier_score,
			resolved_count = excluded.resolved_count,
			domain_weight  = excluded.domain_weight,
			alert          = excluded.alert,
			updated_at     = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveCalibration: prepare: %w", err)
	}
	defer stmt.Close()

	now := ts(s.now())
	for _, c := range states {
		if c.Model == domainThresholdModel {
			continue
		}
		if _, err := stmt.ExecContext(ctx, string(c.Domain), c.Model, c.BrierScore,
			c.ResolvedCount, c.DomainWeight, boolInt(c.Alert), now); err != nil {
			return fmt.Errorf("storage.SaveCalibration: %s/%s: %w", c.Domain, c.Model, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveCalibration: commit: %w", err)
	}
	return nil
}

// SetDomainThreshold fija el τ de entropía del dominio.
func (s *SQLiteStorage) SetDomainThreshold(ctx context.Context, d domain.Domain, threshold float64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO calibration_state (domain, model, entropy_threshold, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, model) DO UPDATE SET
			entropy_threshold = excluded.entropy_threshold,
			updated_at        = excluded.updated_at
	`, string(d), domainThresholdModel, threshold, ts(s.now())); err != nil {
		return fmt.Errorf("storage.SetDomainThreshold: %s: %w", d, err)
	}
	return nil
}

// ModelWeights devuelve los pesos vigentes, mayor peso primero.
func (s *SQLiteStorage) ModelWeights(ctx context.Context) ([]domain.ModelWeight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, weight, rolling_brier, resolved_count, killed, updated_at
		FROM model_weights ORDER BY weight DESC, model
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ModelWeights: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ModelWeight
	for rows.Next() {
		var (
			w       domain.ModelWeight
			killed  int
			updated string
		)
		if err := rows.Scan(&w.Model, &w.Weight, &w.RollingBrier, &w.ResolvedCount, &killed, &updated); err != nil {
			return nil, fmt.Errorf("storage.ModelWeights: scan: %w", err)
		}
		w.Killed = killed == 1
		w.UpdatedAt = parseTS(updated)
		out = append(out, w)
	}
	return out, rows.Err()
}

// ReplaceModelWeights sustituye la tabla completa en una transacción.
// Rechaza vectores que no suman 1 sobre los pesos positivos y deja el estado previo intacto.
func (s *SQLiteStorage) ReplaceModelWeights(ctx context.Context, weights []domain.ModelWeight) error {
	var sum float64
	var positive int
	for _, w := range weights {
		if w.Weight < 0 {
			return fmt.Errorf("storage.ReplaceModelWeights: %s negative: %w", w.Model, domain.ErrWeightsNotNormalized)
		}
		if w.Weight > 0 {
			sum += w.Weight
			positive++
		}
	}
	if positive > 0 && math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("storage.ReplaceModelWeights: sum=%.6f: %w", sum, domain.ErrWeightsNotNormalized)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.ReplaceModelWeights: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_weights`); err != nil {
		return fmt.Errorf("storage.ReplaceModelWeights: clear: %w", err)
	}
	now := ts(s.now())
	for _, w := range weights {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_weights (model, weight, rolling_brier, resolved_count, killed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, w.Model, w.Weight, w.RollingBrier, w.ResolvedCount, boolInt(w.Killed), now); err != nil {
			return fmt.Errorf("storage.ReplaceModelWeights: insert %s: %w", w.Model, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.ReplaceModelWeights: commit: %w", err)
	}
	return nil
}

// Snapshot lee pesos, multiplicadores y umbrales en una sola transacción de lectura.
func (s *SQLiteStorage) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.NewSnapshot()
	snap.TakenAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, fmt.Errorf("storage.Snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT model, weight FROM model_weights`)
	if err != nil {
		return snap, fmt.Errorf("storage.Snapshot: weights: %w", err)
	}
	for rows.Next() {
		var m string
		var w float64
		if err := rows.Scan(&m, &w); err != nil {
			rows.Close()
			return snap, fmt.Errorf("storage.Snapshot: scan weight: %w", err)
		}
		snap.ModelWeights[m] = w
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `SELECT domain, model, domain_weight, entropy_threshold FROM calibration_state`)
	if err != nil {
		return snap, fmt.Errorf("storage.Snapshot: calibration: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			dom, model string
			weight     float64
			threshold  sql.NullFloat64
		)
		if err := rows.Scan(&dom, &model, &weight, &threshold); err != nil {
			return snap, fmt.Errorf("storage.Snapshot: scan calibration: %w", err)
		}
		d := domain.Domain(dom)
		if model == domainThresholdModel {
			if threshold.Valid && threshold.Float64 > 0 {
				snap.Thresholds[d] = threshold.Float64
			}
			continue
		}
		if snap.DomainWeights[d] == nil {
			snap.DomainWeights[d] = make(map[string]float64)
		}
		snap.DomainWeights[d][model] = weight
	}
	return snap, rows.Err()
}

// ActivePrompts devuelve las variantes activas de un dominio ("" = globales).
func (s *SQLiteStorage) ActivePrompts(ctx context.Context, d domain.Domain) ([]domain.PromptExperiment, error) {
	return s.queryPrompts(ctx, `WHERE active = 1 AND domain = ?`, string(d))
}

// AllPrompts devuelve todas las variantes, activas o retiradas.
func (s *SQLiteStorage) AllPrompts(ctx context.Context) ([]domain.PromptExperiment, error) {
	return s.queryPrompts(ctx, ``)
}

func (s *SQLiteStorage) queryPrompts(ctx context.Context, where string, args ...any) ([]domain.PromptExperiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, domain, template, trials, wins, mean_brier, active, parent, created_at
		FROM prompt_experiments `+where+`
		ORDER BY created_at, version
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryPrompts: %w", err)
	}
	defer rows.Close()

	var out []domain.PromptExperiment
	for rows.Next() {
		var (
			p            domain.PromptExperiment
			dom, created string
			mean         sql.NullFloat64
			active       int
		)
		if err := rows.Scan(&p.Version, &dom, &p.Template, &p.Trials, &p.Wins, &mean, &active,
			&p.Parent, &created); err != nil {
			return nil, fmt.Errorf("storage.queryPrompts: scan: %w", err)
		}
		p.Domain = domain.Domain(dom)
		p.MeanBrier = mean.Float64
		p.Active = active == 1
		p.CreatedAt = parseTS(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPrompt inserta una variante o actualiza sus estadísticas.
func (s *SQLiteStorage) UpsertPrompt(ctx context.Context, p domain.PromptExperiment) error {
	now := s.now()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	var mean any
	if p.Trials > 0 {
		mean = p.MeanBrier
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_experiments
			(version, domain, template, trials, wins, mean_brier, active, parent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			trials     = excluded.trials,
			wins       = excluded.wins,
			mean_brier = excluded.mean_brier,
			active     = excluded.active,
			updated_at = excluded.updated_at
	`, p.Version, string(p.Domain), p.Template, p.Trials, p.Wins, mean, boolInt(p.Active),
		p.Parent, ts(created), ts(now)); err != nil {
		return fmt.Errorf("storage.UpsertPrompt: %s: %w", p.Version, err)
	}
	return nil
}

// RetirePrompt desactiva una variante. Nunca se borra.
func (s *SQLiteStorage) RetirePrompt(ctx context.Context, version string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE prompt_experiments SET active = 0, updated_at = ? WHERE version = ?`,
		ts(s.now()), version,
	); err != nil {
		return fmt.Errorf("storage.RetirePrompt: %s: %w", version, err)
	}
	return nil
}
