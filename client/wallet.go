package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hntlabs/walletsync/service/activity"
	"github.com/hntlabs/walletsync/service/pricing"
	"github.com/hntlabs/walletsync/service/view"
	"github.com/hntlabs/walletsync/service/wallet"
)

// Client is the HTTP client for the walletsync service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new walletsync service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetBalances retrieves the cached, fiat-converted balance figures for a
// wallet. The server responds 404 until the wallet has been synced once.
func (c *Client) GetBalances(ctx context.Context, cluster wallet.Cluster, address, currency string) (*view.Figures, error) {
	u := fmt.Sprintf("%s/api/v1/balances/%s/%s", c.baseURL, cluster, url.PathEscape(address))
	if currency != "" {
		u += "?currency=" + url.QueryEscape(currency)
	}

	var fig view.Figures
	if err := c.getJSON(ctx, u, &fig); err != nil {
		return nil, err
	}
	return &fig, nil
}

// Sync triggers a full on-chain balance sync for a wallet and returns the
// freshly derived figures. A concurrent sync for the same wallet yields an
// error from the server's 409 response.
func (c *Client) Sync(ctx context.Context, cluster wallet.Cluster, address string) (*view.Figures, error) {
	u := fmt.Sprintf("%s/api/v1/balances/%s/%s/sync", c.baseURL, cluster, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "POST", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var fig view.Figures
	if err := json.NewDecoder(resp.Body).Decode(&fig); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("wallet synced", "cluster", cluster, "address", address)
	return &fig, nil
}

// Rates is the current HNT to data-credit conversion reading.
type Rates struct {
	DCPerHNT      decimal.Decimal `json:"dc_per_hnt"`
	EmaPrice      int64           `json:"ema_price"`
	EmaConfidence int64           `json:"ema_confidence"`
	Exponent      int32           `json:"exponent"`
}

// GetRates retrieves the current HNT to data-credit conversion rate.
func (c *Client) GetRates(ctx context.Context) (*Rates, error) {
	var rates Rates
	if err := c.getJSON(ctx, c.baseURL+"/api/v1/rates", &rates); err != nil {
		return nil, err
	}
	return &rates, nil
}

// History is a wallet's fiat-converted balance series.
type History struct {
	Cluster  wallet.Cluster         `json:"cluster"`
	Address  string                 `json:"address"`
	Currency string                 `json:"currency"`
	Points   []pricing.HistoryPoint `json:"points"`
}

// GetHistory retrieves the balance-history series for a wallet.
func (c *Client) GetHistory(ctx context.Context, cluster wallet.Cluster, address, currency string) (*History, error) {
	u := fmt.Sprintf("%s/api/v1/history/%s/%s", c.baseURL, cluster, url.PathEscape(address))
	if currency != "" {
		u += "?currency=" + url.QueryEscape(currency)
	}

	var hist History
	if err := c.getJSON(ctx, u, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// ActivityPage is the server's cached activity series for a wallet.
type ActivityPage struct {
	Address string            `json:"address"`
	Cursor  *string           `json:"cursor"`
	Records []activity.Record `json:"records"`
}

// GetActivity retrieves the merged activity feed for a wallet. With
// nextPage set the server extends the cached series along its pagination
// cursor before responding; otherwise it refreshes the head of the feed.
func (c *Client) GetActivity(ctx context.Context, address string, nextPage bool) (*ActivityPage, error) {
	u := fmt.Sprintf("%s/api/v1/activity/%s", c.baseURL, url.PathEscape(address))
	if nextPage {
		u += "?page=next"
	}

	var page ActivityPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// getJSON performs a GET request and decodes a JSON body into out.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
