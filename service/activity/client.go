package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Source fetches one page of activity for a wallet address. A nil cursor
// requests the head of the feed.
type Source interface {
	FetchPage(ctx context.Context, address string, cursor *string) (Page, error)
}

// HTTPSource is a Source over the JSON paged activity API.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource creates an activity API client.
func NewHTTPSource(baseURL string, httpClient *http.Client, logger *slog.Logger) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchPage requests one page of activity, newest-first.
func (s *HTTPSource) FetchPage(ctx context.Context, address string, cursor *string) (Page, error) {
	u := fmt.Sprintf("%s/activity?address=%s", s.baseURL, url.QueryEscape(address))
	if cursor != nil {
		u += "&cursor=" + url.QueryEscape(*cursor)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("activity API returned status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("failed to decode activity response: %w", err)
	}
	return page, nil
}
