package news_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alejandrodnm/polyforecast/internal/adapters/news"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tv-key", body["api_key"])
		assert.Equal(t, "Fed rate cut", body["query"])
		assert.EqualValues(t, 3, body["max_results"])

		w.Write([]byte(`{"results":[
			{"title":"Fed signals cut","url":"https://x/1","content":"The FOMC said...","published_date":"2026-10-01"},
			{"title":"Markets rally","url":"https://x/2","content":"Stocks..."}
		]}`))
	}))
	defer srv.Close()

	arts, err := news.NewTavily("tv-key", srv.URL).Search(context.Background(), "Fed rate cut", 3)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "Fed signals cut", arts[0].Title)
	assert.Equal(t, "2026-10-01", arts[0].PublishedAt)
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/res/v1/news/search", r.URL.Path)
		assert.Equal(t, "bv-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "election", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		w.Write([]byte(`{"results":[{"title":"Poll","url":"https://y","description":"Lead grows","age":"2 hours ago"}]}`))
	}))
	defer srv.Close()

	arts, err := news.NewBrave("bv-key", srv.URL).Search(context.Background(), "election", 5)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "Lead grows", arts[0].Content)
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := news.NewBrave("bad", srv.URL).Search(context.Background(), "q", 1)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_WithoutKeyReturnsNil(t *testing.T) {
	assert.Nil(t, news.New("tavily", "", ""))
	assert.NotNil(t, news.New("brave", "", "k"))
	assert.NotNil(t, news.New("tavily", "k", ""))
}
