// Package fetcher performs one-shot HTTP fetches of realtime feed bytes
// and optionally saves a snapshot next to the configured source files.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/transitdelay-data/internal/common/logger"
)

type Fetcher struct {
	client *http.Client
	apiKey string
	logger logger.Logger
}

func New(apiKey string, log logger.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKey,
		logger: log,
	}
}

// Fetch downloads one feed. The API key travels as an apikey query
// parameter when configured.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed URL: %w", err)
	}
	if f.apiKey != "" {
		q := u.Query()
		q.Set("apikey", f.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf, application/octet-stream")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}

	f.logger.Debug("Feed fetched", "url", feedURL, "size_bytes", len(raw))
	return raw, nil
}

// Save writes a feed snapshot to dir under the given file name.
func (f *Fetcher) Save(raw []byte, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	f.logger.Debug("Snapshot saved", "path", path, "size_bytes", len(raw))
	return path, nil
}
