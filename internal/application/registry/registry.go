package registry

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/alejandrodnm/polyforecast/internal/ports"
)

// Config contiene los filtros de liquidez/tiempo y la política de dedup.
type Config struct {
	MinVolume       float64
	MinHoursToClose float64
	RestaleAfter    time.Duration // un forecast más viejo que esto vuelve a estar pendiente
	DedupThreshold  float64       // similitud mínima 0-100 para considerar duplicado
	PageSize        int
}

// Registry es el registro canónico de mercados.
type Registry struct {
	store ports.MarketStore
	cfg   Config
	now   func() time.Time
}

// New crea el registro.
func New(store ports.MarketStore, cfg Config) *Registry {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 85
	}
	return &Registry{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert hace merge por (exchange, external_id).
func (r *Registry) Upsert(ctx context.Context, raw domain.RawMarket) (domain.Market, error) {
	if raw.ExternalID == "" || raw.Question == "" {
		return domain.Market{}, fmt.Errorf("registry.Upsert: market without id or question")
	}
	if raw.Price < 0 || raw.Price > 1 {
		return domain.Market{}, fmt.Errorf("registry.Upsert: %s price %.4f: %w",
			raw.ExternalID, raw.Price, domain.ErrInvalidProbability)
	}
	return r.store.UpsertMarket(ctx, domain.NewMarketFromRaw(raw))
}

// MarkResolved fija el outcome del mercado. Idempotente con el mismo outcome;
// un outcome distinto devuelve domain.ErrResolutionConflict.
func (r *Registry) MarkResolved(ctx context.Context, id string, outcome domain.Side) (int, error) {
	created, err := r.store.MarkResolved(ctx, id, outcome)
	if err != nil {
		return 0, fmt.Errorf("registry.MarkResolved: %w", err)
	}
	if created > 0 {
		slog.Info("market resolved", "market_id", id, "outcome", outcome, "outcomes_created", created)
	}
	return created, nil
}

// FindDueForForecast recorre los mercados OPEN canónicos, sin clasificar o con
// forecast caducado, por encima del suelo de volumen y de horas al cierre.
// La secuencia pagina por keyset: es finita y cada llamada empieza de cero.
func (r *Registry) FindDueForForecast(ctx context.Context) iter.Seq2[domain.Market, error] {
	now := r.now()
	return r.pages(ctx, "registry.FindDueForForecast", ports.MarketFilter{
		State:          domain.StateOpen,
		OnlyCanonical:  true,
		MinVolume:      r.cfg.MinVolume,
		ClosesAfter:    now.Add(r.minToClose()),
		ForecastBefore: now.Add(-r.cfg.RestaleAfter),
	})
}

// Open recorre todos los mercados abiertos, duplicados incluidos.
func (r *Registry) Open(ctx context.Context) iter.Seq2[domain.Market, error] {
	return r.pages(ctx, "registry.Open", ports.MarketFilter{State: domain.StateOpen})
}

func (r *Registry) pages(ctx context.Context, op string, filter ports.MarketFilter) iter.Seq2[domain.Market, error] {
	filter.Limit = r.cfg.PageSize
	return func(yield func(domain.Market, error) bool) {
		for {
			page, err := r.store.ListMarkets(ctx, filter)
			if err != nil {
				yield(domain.Market{}, fmt.Errorf("%s: %w", op, err))
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < filter.Limit {
				return
			}
			filter.AfterID = page[len(page)-1].ID
		}
	}
}

// Eligible aplica en el descubrimiento los mismos suelos que FindDueForForecast:
// no tiene sentido registrar mercados que nunca se van a pronosticar.
func (r *Registry) Eligible(raw domain.RawMarket) bool {
	if raw.Resolved || raw.Volume < r.cfg.MinVolume {
		return false
	}
	if raw.CloseTime.IsZero() {
		return false
	}
	return raw.CloseTime.After(r.now().Add(r.minToClose()))
}

// UpdatePrice refresca precio y volumen de un mercado abierto.
func (r *Registry) UpdatePrice(ctx context.Context, id string, price, volume float64) error {
	if err := r.store.UpdatePrice(ctx, id, price, volume); err != nil {
		return fmt.Errorf("registry.UpdatePrice: %w", err)
	}
	return nil
}

// SetDomain guarda el dominio asignado por el clasificador.
func (r *Registry) SetDomain(ctx context.Context, id string, d domain.Domain) error {
	if !d.Valid() {
		return fmt.Errorf("registry.SetDomain: %s: unknown domain %q", id, d)
	}
	if err := r.store.SetDomain(ctx, id, d); err != nil {
		return fmt.Errorf("registry.SetDomain: %w", err)
	}
	return nil
}

func (r *Registry) minToClose() time.Duration {
	return time.Duration(r.cfg.MinHoursToClose * float64(time.Hour))
}

// Dedup empareja mercados abiertos de exchanges distintos que preguntan lo
// mismo. El de mayor volumen queda canónico (empate: id menor) y el otro
// apunta a él con dedup_group. Devuelve cuántos mercados se marcaron.
func (r *Registry) Dedup(ctx context.Context) (int, error) {
	markets, err := r.store.ListMarkets(ctx, ports.MarketFilter{State: domain.StateOpen})
	if err != nil {
		return 0, fmt.Errorf("registry.Dedup: list: %w", err)
	}

	type cand struct {
		a, b  int
		score float64
	}
	var (
		free  []int
		index = make(map[string][]int)
	)
	for i, m := range markets {
		if m.DedupGroup != "" {
			continue
		}
		free = append(free, i)
		for _, tok := range keyTokens(m.Question) {
			index[tok] = append(index[tok], i)
		}
	}

	seen := make(map[[2]int]bool)
	var cands []cand
	for _, i := range free {
		for _, tok := range keyTokens(markets[i].Question) {
			for _, j := range index[tok] {
				if j <= i || markets[i].Exchange == markets[j].Exchange {
					continue
				}
				key := [2]int{i, j}
				if seen[key] {
					continue
				}
				seen[key] = true
				if s := TokenSortRatio(markets[i].Question, markets[j].Question); s >= r.cfg.DedupThreshold {
					cands = append(cands, cand{a: i, b: j, score: s})
				}
			}
		}
	}

	// Mejores parejas primero; cada mercado entra en como mucho una
	sort.Slice(cands, func(x, y int) bool {
		if cands[x].score != cands[y].score {
			return cands[x].score > cands[y].score
		}
		return markets[cands[x].a].ID+markets[cands[x].b].ID < markets[cands[y].a].ID+markets[cands[y].b].ID
	})

	used := make(map[int]bool)
	marked := 0
	for _, c := range cands {
		if used[c.a] || used[c.b] {
			continue
		}
		canon, dup := Canonical(markets[c.a], markets[c.b])
		if err := r.store.SetDedupGroup(ctx, canon.ID, canon.ID); err != nil {
			return marked, fmt.Errorf("registry.Dedup: %w", err)
		}
		if err := r.store.SetDedupGroup(ctx, dup.ID, canon.ID); err != nil {
			return marked, fmt.Errorf("registry.Dedup: %w", err)
		}
		used[c.a], used[c.b] = true, true
		marked++
		slog.Info("cross-listed market deduplicated",
			"canonical", canon.ID,
			"duplicate", dup.ID,
			"similarity", fmt.Sprintf("%.1f", c.score),
		)
	}
	return marked, nil
}

// Canonical elige el canónico de una pareja: mayor volumen, y a igualdad
// el id lexicográficamente menor.
func Canonical(a, b domain.Market) (canon, dup domain.Market) {
	if a.Volume > b.Volume || (a.Volume == b.Volume && a.ID < b.ID) {
		return a, b
	}
	return b, a
}

// stopwords no discriminan entre preguntas de mercados.
var stopwords = map[string]bool{
	"will": true, "the": true, "before": true, "after": true, "with": true,
	"than": true, "more": true, "less": true, "from": true, "this": true,
	"that": true, "have": true, "been": true, "into": true, "over": true,
}

// keyTokens son los tokens que sirven para buscar candidatos a duplicado.
func keyTokens(q string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range strings.Fields(Normalize(q)) {
		if len(t) < 4 || stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
