package eventconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPSource fetches every event configuration from the country config
// service. The caller's bearer token is forwarded unchanged.
type HTTPSource struct {
	url    string
	client *http.Client
}

var _ ports.EventConfigSource = (*HTTPSource)(nil)

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context, token string) ([]domain.EventConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch event configs: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("config service returned status %d", resp.StatusCode)
	}
	var configs []domain.EventConfig
	if err := json.NewDecoder(resp.Body).Decode(&configs); err != nil {
		return nil, fmt.Errorf("decode event configs: %w", err)
	}
	return configs, nil
}
