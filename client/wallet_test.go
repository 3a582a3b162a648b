package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/wallet"
)

const testAddr = "9sHNT1ZqTomvb3K9mupD7gV3sUNF1HMbTmbGFJd46wxt"

func TestGetBalances_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/balances/mainnet/"+testAddr, r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("currency"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cluster":    "mainnet",
			"address":    testAddr,
			"currency":   "usd",
			"total_fiat": "156.25",
			"has_total":  true,
			"tokens": []map[string]interface{}{
				{"token": "HNT", "balance": 250000000, "amount": "2.5", "formatted": "2.5000 HNT", "has_price": true},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	fig, err := client.GetBalances(context.Background(), wallet.ClusterMainnet, testAddr, "usd")
	require.NoError(t, err)
	assert.Equal(t, wallet.ClusterMainnet, fig.Cluster)
	assert.True(t, fig.HasTotal)
	assert.True(t, fig.TotalFiat.Equal(decimal.NewFromFloat(156.25)))
	require.Len(t, fig.Tokens, 1)
	assert.Equal(t, wallet.TokenHNT, fig.Tokens[0].Token)
}

func TestGetBalances_NotSynced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "no balances cached for wallet; trigger a sync first",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetBalances(context.Background(), wallet.ClusterMainnet, testAddr, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger a sync first")
}

func TestSync_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/balances/devnet/"+testAddr+"/sync", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cluster": "devnet",
			"address": testAddr,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	fig, err := client.Sync(context.Background(), wallet.ClusterDevnet, testAddr)
	require.NoError(t, err)
	assert.Equal(t, wallet.ClusterDevnet, fig.Cluster)
	assert.Equal(t, testAddr, fig.Address)
}

func TestSync_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "sync already in flight for wallet",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Sync(context.Background(), wallet.ClusterMainnet, testAddr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in flight")
}

func TestGetRates_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/rates", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"dc_per_hnt":     "260000",
			"ema_price":      261000000,
			"ema_confidence": 500000,
			"exponent":       -8,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	rates, err := client.GetRates(context.Background())
	require.NoError(t, err)
	assert.True(t, rates.DCPerHNT.Equal(decimal.NewFromInt(260_000)))
	assert.Equal(t, int64(261_000_000), rates.EmaPrice)
	assert.Equal(t, int32(-8), rates.Exponent)
}

func TestGetRates_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "conversion rate unavailable",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetRates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestGetHistory_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/history/mainnet/"+testAddr, r.URL.Path)
		assert.Equal(t, "eur", r.URL.Query().Get("currency"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"cluster":  "mainnet",
			"address":  testAddr,
			"currency": "eur",
			"points": []map[string]interface{}{
				{"timestamp": time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), "balance": "10.5"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	hist, err := client.GetHistory(context.Background(), wallet.ClusterMainnet, testAddr, "eur")
	require.NoError(t, err)
	assert.Equal(t, "eur", hist.Currency)
	require.Len(t, hist.Points, 1)
	assert.True(t, hist.Points[0].Balance.Equal(decimal.NewFromFloat(10.5)))
}

func TestGetActivity_Refresh(t *testing.T) {
	cursor := "c1"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/activity/"+testAddr, r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ActivityPage{
			Address: testAddr,
			Cursor:  &cursor,
			Records: []activity.Record{
				{Hash: "A", Type: "payment_v2", Timestamp: time.Now().UTC()},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.GetActivity(context.Background(), testAddr, false)
	require.NoError(t, err)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "c1", *page.Cursor)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "A", page.Records[0].Hash)
}

func TestGetActivity_NextPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "next", r.URL.Query().Get("page"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ActivityPage{Address: testAddr, Records: []activity.Record{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	page, err := client.GetActivity(context.Background(), testAddr, true)
	require.NoError(t, err)
	assert.Nil(t, page.Cursor)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetRates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "boom")
}
