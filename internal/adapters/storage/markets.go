package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

const marketColumns = `id, exchange, external_id, question, resolution_criteria, domain,
	price, volume, close_time, state, outcome, dedup_group, last_forecast_at,
	created_at, updated_at`

// UpsertMarket hace merge por (exchange, external_id). Precio, volumen, texto y
// cierre se refrescan; domain y dedup_group solo se rellenan si estaban vacíos;
// el estado de resolución nunca se toca desde aquí.
func (s *SQLiteStorage) UpsertMarket(ctx context.Context, m domain.Market) (domain.Market, error) {
	if m.ID == "" {
		m.ID = domain.MarketID(m.Exchange, m.ExternalID)
	}
	now := ts(s.now())

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO markets
			(id, exchange, external_id, question, resolution_criteria, domain,
			 price, volume, close_time, state, outcome, dedup_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', '', ?, ?, ?)
		ON CONFLICT(exchange, external_id) DO UPDATE SET
			question            = excluded.question,
			resolution_criteria = excluded.resolution_criteria,
			price               = excluded.price,
			volume              = excluded.volume,
			close_time          = excluded.close_time,
			domain              = CASE WHEN markets.domain = '' THEN excluded.domain ELSE markets.domain END,
			dedup_group         = CASE WHEN markets.dedup_group = '' THEN excluded.dedup_group ELSE markets.dedup_group END,
			updated_at          = excluded.updated_at
	`,
		m.ID, string(m.Exchange), m.ExternalID, m.Question, m.ResolutionCriteria, string(m.Domain),
		m.Price, m.Volume, ts(m.CloseTime), m.DedupGroup, now, now,
	); err != nil {
		return domain.Market{}, fmt.Errorf("storage.UpsertMarket: %s: %w", m.ID, err)
	}

	return s.GetMarket(ctx, m.ID)
}

// GetMarket devuelve el mercado por id o domain.ErrMarketNotFound.
func (s *SQLiteStorage) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: %s: %w", id, domain.ErrMarketNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("storage.GetMarket: %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets devuelve mercados ordenados por id (apto para paginar por keyset).
func (s *SQLiteStorage) ListMarkets(ctx context.Context, f ports.MarketFilter) ([]domain.Market, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Exchange != "" {
		where = append(where, "exchange = ?")
		args = append(args, string(f.Exchange))
	}
	if f.OnlyCanonical {
		where = append(where, "(dedup_group = '' OR dedup_group = id)")
	}
	if f.MinVolume > 0 {
		where = append(where, "volume >= ?")
		args = append(args, f.MinVolume)
	}
	if !f.ClosesAfter.IsZero() {
		where = append(where, "close_time != '' AND close_time >= ?")
		args = append(args, ts(f.ClosesAfter))
	}
	if !f.ForecastBefore.IsZero() {
		where = append(where, "(domain = '' OR last_forecast_at = '' OR last_forecast_at < ?)")
		args = append(args, ts(f.ForecastBefore))
	}
	if f.AfterID != "" {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}

	q := `SELECT ` + marketColumns + ` FROM markets`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListMarkets: query: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListMarkets: scan: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// UpdatePrice refresca precio y volumen de un mercado abierto.
func (s *SQLiteStorage) UpdatePrice(ctx context.Context, id string, price, volume float64) error {
	if price < 0 || price > 1 {
		return fmt.Errorf("storage.UpdatePrice: %s: %w", id, domain.ErrInvalidProbability)
	}
	q := `UPDATE markets SET price = ?, updated_at = ? WHERE id = ? AND state = 'OPEN'`
	args := []any{price, ts(s.now()), id}
	if volume > 0 {
		q = `UPDATE markets SET price = ?, volume = ?, updated_at = ? WHERE id = ? AND state = 'OPEN'`
		args = []any{price, volume, ts(s.now()), id}
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("storage.UpdatePrice: %s: %w", id, err)
	}
	return nil
}

// SetDomain fija el dominio clasificado.
func (s *SQLiteStorage) SetDomain(ctx context.Context, id string, d domain.Domain) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET domain = ?, updated_at = ? WHERE id = ?`,
		string(d), ts(s.now()), id,
	); err != nil {
		return fmt.Errorf("storage.SetDomain: %s: %w", id, err)
	}
	return nil
}

// SetDedupGroup apunta el mercado a su canónico. Una vez fijado no cambia.
func (s *SQLiteStorage) SetDedupGroup(ctx context.Context, id, group string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET dedup_group = ?, updated_at = ? WHERE id = ? AND dedup_group = ''`,
		group, ts(s.now()), id,
	); err != nil {
		return fmt.Errorf("storage.SetDedupGroup: %s: %w", id, err)
	}
	return nil
}

// TouchForecasted marca el mercado como pronosticado en at.
func (s *SQLiteStorage) TouchForecasted(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE markets SET last_forecast_at = ? WHERE id = ?`, ts(at), id,
	); err != nil {
		return fmt.Errorf("storage.TouchForecasted: %s: %w", id, err)
	}
	return nil
}

// MarkResolved fija el outcome y materializa un Outcome por Forecast del mercado
// en una sola transacción. Idempotente con el mismo outcome.
func (s *SQLiteStorage) MarkResolved(ctx context.Context, id string, outcome domain.Side) (int, error) {
	if outcome != domain.SideYes && outcome != domain.SideNo {
		return 0, fmt.Errorf("storage.MarkResolved: %s: invalid outcome %q", id, outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.MarkResolved: begin tx: %w", err)
	}
	defer tx.Rollback()

	var state, current string
	err = tx.QueryRowContext(ctx, `SELECT state, outcome FROM markets WHERE id = ?`, id).Scan(&state, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("storage.MarkResolved: %s: %w", id, domain.ErrMarketNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("storage.MarkResolved: read %s: %w", id, err)
	}

	if domain.MarketState(state) == domain.StateResolved {
		if domain.Side(current) == outcome {
			return 0, nil
		}
		return 0, fmt.Errorf("storage.MarkResolved: %s resolved %s, got %s: %w",
			id, current, outcome, domain.ErrResolutionConflict)
	}

	now := ts(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE markets SET state = 'RESOLVED', outcome = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		string(outcome), now, now, id,
	); err != nil {
		return 0, fmt.Errorf("storage.MarkResolved: update %s: %w", id, err)
	}

	actual := outcome.Value()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO outcomes
			(market_id, forecast_id, model, prompt_version, domain, predicted, actual,
			 brier, entropy, entropy_source, resolved_at)
		SELECT market_id, id, model, prompt_version, domain, probability, ?,
		       (probability - ?) * (probability - ?), entropy, entropy_source, ?
		FROM forecasts WHERE market_id = ?
		ON CONFLICT(market_id, forecast_id) DO NOTHING
	`, actual, actual, actual, now, id)
	if err != nil {
		return 0, fmt.Errorf("storage.MarkResolved: outcomes %s: %w", id, err)
	}
	created, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.MarkResolved: commit: %w", err)
	}
	return int(created), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(r rowScanner) (domain.Market, error) {
	var (
		m                                             domain.Market
		exchange, dom, state, outcome                 string
		closeTime, lastForecast, createdAt, updatedAt string
	)
	if err := r.Scan(
		&m.ID, &exchange, &m.ExternalID, &m.Question, &m.ResolutionCriteria, &dom,
		&m.Price, &m.Volume, &closeTime, &state, &outcome, &m.DedupGroup, &lastForecast,
		&createdAt, &updatedAt,
	); err != nil {
		return domain.Market{}, err
	}
	m.Exchange = domain.Exchange(exchange)
	m.Domain = domain.Domain(dom)
	m.State = domain.MarketState(state)
	m.Outcome = domain.Side(outcome)
	m.CloseTime = parseTS(closeTime)
	m.LastForecastAt = parseTS(lastForecast)
	m.CreatedAt = parseTS(createdAt)
	m.UpdatedAt = parseTS(updatedAt)
	return m, nil
}
