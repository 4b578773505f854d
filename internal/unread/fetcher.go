package unread

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/projecthub/internal/model"
)

// HTTPFetcher polls the api service's unread-count read model.
type HTTPFetcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) FetchUnreadCounts(ctx context.Context) (model.UnreadCounts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/unread-count", nil)
	if err != nil {
		return model.UnreadCounts{}, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return model.UnreadCounts{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.UnreadCounts{}, fmt.Errorf("unread-count: %d", resp.StatusCode)
	}
	var counts model.UnreadCounts
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return model.UnreadCounts{}, err
	}
	return counts, nil
}
