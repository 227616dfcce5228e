package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/storage"
	"github.com/alejandrodnm/polyforecast/internal/application/registry"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, cfg registry.Config) (*registry.Registry, *storage.SQLiteStorage) {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return registry.New(db, cfg), db
}

func raw(ex domain.Exchange, id, q string, vol float64, closeIn time.Duration) domain.RawMarket {
	return domain.RawMarket{
		Exchange:   ex,
		ExternalID: id,
		Question:   q,
		Price:      0.4,
		Volume:     vol,
		CloseTime:  time.Now().UTC().Add(closeIn),
	}
}

func collect(t *testing.T, r *registry.Registry) []string {
	t.Helper()
	var ids []string
	for m, err := range r.FindDueForForecast(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	return ids
}

func TestTokenSortRatio(t *testing.T) {
	assert.InDelta(t, 100, registry.TokenSortRatio("Will Trump win 2028?", "will trump WIN 2028"), 0.001)
	assert.InDelta(t, 100, registry.TokenSortRatio("Trump win 2028", "2028: win, Trump"), 0.001)
	assert.Less(t, registry.TokenSortRatio("Will Trump win 2028?", "Will the Lakers win the NBA title?"), 60.0)
	assert.InDelta(t, 100, registry.TokenSortRatio("", ""), 0.001)
	// sustitución = borrado + inserción: 13 runas, distancia 5
	assert.InDelta(t, 100*8.0/13, registry.TokenSortRatio("kitten", "sitting"), 0.001)
	assert.InDelta(t, 100*4.0/6, registry.TokenSortRatio("abc", "abd"), 0.001)
}

func TestUpsert_RejectsBadInput(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{})
	ctx := context.Background()

	_, err := r.Upsert(ctx, domain.RawMarket{Exchange: domain.ExchangeKalshi, Question: "q"})
	assert.Error(t, err)

	bad := raw(domain.ExchangeKalshi, "K1", "q", 1, time.Hour)
	bad.Price = 1.2
	_, err = r.Upsert(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidProbability)
}

func TestFindDueForForecast_AppliesFloors(t *testing.T) {
	r, db := newRegistry(t, registry.Config{
		MinVolume:       10_000,
		MinHoursToClose: 48,
		RestaleAfter:    24 * time.Hour,
		PageSize:        2,
	})
	ctx := context.Background()

	for _, rm := range []domain.RawMarket{
		raw(domain.ExchangePolymarket, "a", "Will A happen?", 50_000, 10*24*time.Hour),
		raw(domain.ExchangePolymarket, "b", "Will B happen?", 500, 10*24*time.Hour),    // poco volumen
		raw(domain.ExchangePolymarket, "c", "Will C happen?", 50_000, 12*time.Hour),    // cierra pronto
		raw(domain.ExchangePolymarket, "d", "Will D happen?", 50_000, 20*24*time.Hour), // forecast reciente
		raw(domain.ExchangePolymarket, "e", "Will E happen?", 50_000, 20*24*time.Hour),
		raw(domain.ExchangePolymarket, "f", "Will F happen?", 50_000, 20*24*time.Hour),
	} {
		_, err := r.Upsert(ctx, rm)
		require.NoError(t, err)
	}
	require.NoError(t, db.SetDomain(ctx, "polymarket:d", domain.DomainPolitics))
	require.NoError(t, db.TouchForecasted(ctx, "polymarket:d", time.Now().UTC()))
	_, err := r.MarkResolved(ctx, "polymarket:f", domain.SideNo)
	require.NoError(t, err)

	ids := collect(t, r)
	assert.Equal(t, []string{"polymarket:a", "polymarket:e"}, ids)

	// restartable: una segunda pasada devuelve lo mismo
	assert.Equal(t, ids, collect(t, r))
}

func TestFindDueForForecast_StopsEarly(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{PageSize: 1})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Upsert(ctx, raw(domain.ExchangeKalshi, id, "Will "+id+" happen?", 1, 30*24*time.Hour))
		require.NoError(t, err)
	}

	n := 0
	for _, err := range r.FindDueForForecast(ctx) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestDedup_HigherVolumeIsCanonical(t *testing.T) {
	r, db := newRegistry(t, registry.Config{PageSize: 10})
	ctx := context.Background()

	_, err := r.Upsert(ctx, raw(domain.ExchangePolymarket, "0xabc", "Will Trump win 2028?", 900_000, 90*24*time.Hour))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, raw(domain.ExchangeKalshi, "PRES-28-TRUMP", "Will Trump win 2028", 120_000, 90*24*time.Hour))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, raw(domain.ExchangeKalshi, "FED-CUT", "Will the Fed cut rates in March?", 50_000, 90*24*time.Hour))
	require.NoError(t, err)

	n, err := r.Dedup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	canon, err := db.GetMarket(ctx, "polymarket:0xabc")
	require.NoError(t, err)
	dup, err := db.GetMarket(ctx, "kalshi:PRES-28-TRUMP")
	require.NoError(t, err)
	assert.True(t, canon.IsCanonical())
	assert.Equal(t, "polymarket:0xabc", dup.DedupGroup)
	assert.False(t, dup.IsCanonical())

	ids := collect(t, r)
	assert.NotContains(t, ids, "kalshi:PRES-28-TRUMP")
	assert.Contains(t, ids, "polymarket:0xabc")
	assert.Contains(t, ids, "kalshi:FED-CUT")

	// segunda pasada no re-marca nada
	n, err = r.Dedup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDedup_SameExchangeNotMatched(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{})
	ctx := context.Background()
	_, err := r.Upsert(ctx, raw(domain.ExchangeKalshi, "A", "Will Trump win 2028?", 10, 90*24*time.Hour))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, raw(domain.ExchangeKalshi, "B", "Will Trump win 2028?", 20, 90*24*time.Hour))
	require.NoError(t, err)

	n, err := r.Dedup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCanonical_TieBreaksOnID(t *testing.T) {
	a := domain.Market{ID: "polymarket:x", Volume: 100}
	b := domain.Market{ID: "kalshi:y", Volume: 100}
	canon, dup := registry.Canonical(a, b)
	assert.Equal(t, "kalshi:y", canon.ID)
	assert.Equal(t, "polymarket:x", dup.ID)

	b.Volume = 50
	canon, _ = registry.Canonical(a, b)
	assert.Equal(t, "polymarket:x", canon.ID)
}

func TestMarkResolved_Conflict(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{})
	ctx := context.Background()
	_, err := r.Upsert(ctx, raw(domain.ExchangeKalshi, "A", "Will A?", 10, time.Hour))
	require.NoError(t, err)

	_, err = r.MarkResolved(ctx, "kalshi:A", domain.SideYes)
	require.NoError(t, err)
	_, err = r.MarkResolved(ctx, "kalshi:A", domain.SideYes)
	require.NoError(t, err)
	_, err = r.MarkResolved(ctx, "kalshi:A", domain.SideNo)
	assert.ErrorIs(t, err, domain.ErrResolutionConflict)
}

func TestEligible(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{MinVolume: 10_000, MinHoursToClose: 48})

	assert.True(t, r.Eligible(raw(domain.ExchangeKalshi, "A", "q", 20_000, 72*time.Hour)))
	assert.False(t, r.Eligible(raw(domain.ExchangeKalshi, "B", "q", 500, 72*time.Hour)))
	assert.False(t, r.Eligible(raw(domain.ExchangeKalshi, "C", "q", 20_000, 24*time.Hour)))

	noClose := raw(domain.ExchangeKalshi, "D", "q", 20_000, 0)
	noClose.CloseTime = time.Time{}
	assert.False(t, r.Eligible(noClose))

	resolved := raw(domain.ExchangeKalshi, "E", "q", 20_000, 72*time.Hour)
	resolved.Resolved = true
	assert.False(t, r.Eligible(resolved))
}

func TestOpen_IncludesDuplicates(t *testing.T) {
	r, _ := newRegistry(t, registry.Config{PageSize: 1})
	ctx := context.Background()

	_, err := r.Upsert(ctx, raw(domain.ExchangePolymarket, "a", "Will Trump win 2028?", 50_000, 72*time.Hour))
	require.NoError(t, err)
	_, err = r.Upsert(ctx, raw(domain.ExchangeKalshi, "b", "Will Trump win 2028?", 10_000, 72*time.Hour))
	require.NoError(t, err)
	n, err := r.Dedup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var ids []string
	for m, err := range r.Open(ctx) {
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"kalshi:b", "polymarket:a"}, ids)
}

func TestSetDomain_RejectsUnknown(t *testing.T) {
	r, db := newRegistry(t, registry.Config{})
	ctx := context.Background()
	m, err := r.Upsert(ctx, raw(domain.ExchangeKalshi, "A", "q", 1, time.Hour))
	require.NoError(t, err)

	assert.Error(t, r.SetDomain(ctx, m.ID, "weather"))
	require.NoError(t, r.SetDomain(ctx, m.ID, domain.DomainSports))

	got, err := db.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainSports, got.Domain)
}
