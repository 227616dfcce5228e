package kalshi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/alejandrodnm/polyforecast/internal/adapters/kalshi"
	"github.com/alejandrodnm/polyforecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMarkets(t *testing.T) {
	data, err := os.ReadFile("../../../testdata/fixtures/kalshi_markets.json")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		w.Write(data)
	}))
	defer srv.Close()

	markets, err := kalshi.NewClient(srv.URL).ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, domain.ExchangeKalshi, markets[0].Exchange)
	assert.Equal(t, "PRES-2028-DJT", markets[0].ExternalID)
	assert.InDelta(t, 0.05, markets[0].Price, 1e-9)
	assert.InDelta(t, 250000, markets[0].Volume, 1e-9)
	assert.Contains(t, markets[0].ResolutionCriteria, "Donald Trump")

	assert.InDelta(t, 0.41, markets[1].Price, 1e-9, "sin bid/ask usa last_price")
}

func TestListMarkets_FollowsCursor(t *testing.T) {
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"cursor":"next","markets":[{"ticker":"A","title":"a?","last_price":10}]}`))
			return
		}
		assert.Equal(t, "next", r.URL.Query().Get("cursor"))
		w.Write([]byte(`{"cursor":"","markets":[{"ticker":"B","title":"b?","last_price":20}]}`))
	}))
	defer srv.Close()

	markets, err := kalshi.NewClient(srv.URL).ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 2)
	assert.Equal(t, 2, pages)
}

func TestGetResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/DONE":
			w.Write([]byte(`{"market":{"ticker":"DONE","status":"finalized","result":"yes"}}`))
		case "/markets/PENDING":
			w.Write([]byte(`{"market":{"ticker":"PENDING","status":"closed","result":""}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := kalshi.NewClient(srv.URL)

	resolved, side, err := client.GetResolution(context.Background(), "DONE")
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, domain.SideYes, side)

	resolved, _, err = client.GetResolution(context.Background(), "PENDING")
	require.NoError(t, err)
	assert.False(t, resolved)

	_, _, err = client.GetResolution(context.Background(), "MISSING")
	assert.Error(t, err)
}

func TestGetPrice_MidOfBidAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"market":{"ticker":"X","yes_bid":30,"yes_ask":34,"last_price":50}}`))
	}))
	defer srv.Close()

	p, err := kalshi.NewClient(srv.URL).GetPrice(context.Background(), "X")
	require.NoError(t, err)
	assert.InDelta(t, 0.32, p, 1e-9)
}
