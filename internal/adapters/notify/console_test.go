package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/polyforecast/internal/adapters/notify"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_ReportRun(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	err := c.ReportRun(context.Background(), domain.RunReport{
		RunID:       "0123456789abcdef",
		Markets:     5,
		Succeeded:   12,
		Abstained:   2,
		Failed:      1,
		Trades:      1,
		Skipped:     map[string]int{"edge_below_min": 3, "confidence_not_high": 1},
		CostUSD:     0.0421,
		StartedAt:   start,
		CompletedAt: start.Add(3 * time.Second),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "run 01234567")
	assert.Contains(t, out, "ok:12 abst:2 fail:1")
	assert.Contains(t, out, "trades:1")
	assert.Contains(t, out, "$0.0421")
	assert.Contains(t, out, "edge_below_min")
	assert.Contains(t, out, "confidence_not_high")
}

func TestConsole_ReportRun_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, notify.NewConsoleWriter(&buf, false).ReportRun(context.Background(), domain.RunReport{}))
	assert.Contains(t, buf.String(), "no markets due")
}

func TestConsole_PrintStatus(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	c.PrintStatus(notify.StatusInput{
		Portfolio: domain.PortfolioState{Cash: 9500, TotalValue: 10100},
		Bankroll:  10000,
		OpenTrades: []domain.Trade{{
			MarketID: "polymarket:0xabc", Side: domain.SideYes, Size: 500, FillPrice: 0.4,
			Edge: 0.15, KellyFraction: 0.05, IsPaper: true,
		}},
		Weights: []domain.ModelWeight{
			{Model: "gpt-4.1", Weight: 1, RollingBrier: 0.15, ResolvedCount: 40},
			{Model: "deepseek-chat", Weight: 0, RollingBrier: 0.31, ResolvedCount: 40, Killed: true},
		},
		Calibration: []domain.CalibrationState{
			{Domain: domain.DomainSports, Model: "gpt-4.1", BrierScore: 0.27, ResolvedCount: 25, DomainWeight: 0.1, EntropyThreshold: 3.75, Alert: true},
		},
		Costs: []domain.ModelCost{{Model: "gpt-4.1", Calls: 10, TokensIn: 5000, TokensOut: 800, CostUSD: 0.0164}},
	})

	out := buf.String()
	assert.Contains(t, out, "cash $9500.00")
	assert.Contains(t, out, "+1.00%")
	assert.Contains(t, out, "polymarket:0xabc")
	assert.Contains(t, out, "KILLED")
	assert.Contains(t, out, "3.75")
	assert.Contains(t, out, "!!")
	assert.Contains(t, out, "total $0.0164")
}
