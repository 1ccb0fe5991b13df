package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/intune-bridge/internal/errors"
)

// Status mirrors the body of GET /intune/status
type Status struct {
	Active                bool   `json:"active"`
	TenantID              string `json:"tenant_id,omitempty"`
	TenantName            string `json:"tenant_name,omitempty"`
	SessionTimeoutMinutes int    `json:"session_timeout_minutes,omitempty"`
	Error                 string `json:"error,omitempty"`
}

type StatusFetcher interface {
	FetchStatus(ctx context.Context) (Status, error)
}

// HTTPStatusFetcher polls the bridge's status endpoint. The client's cookie jar must
// hold the session cookie set by the login flow.
type HTTPStatusFetcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStatusFetcher(baseURL string, client *http.Client) *HTTPStatusFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStatusFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (f *HTTPStatusFetcher) FetchStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/intune/status", nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Status{}, apperrors.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Status{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var status Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}
