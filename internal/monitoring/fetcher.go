// internal/monitoring/fetcher.go
package monitoring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"bitaxe-monitor/internal/config"
)

const (
	// SystemInfoPath is the AxeOS endpoint returning the full telemetry object.
	SystemInfoPath = "/api/system/info"
	maxPayloadSize = 1 << 20
)

// AxeOSFetcher reads /api/system/info from a miner running AxeOS.
type AxeOSFetcher struct {
	client *http.Client
}

func NewAxeOSFetcher(timeout time.Duration) *AxeOSFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AxeOSFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *AxeOSFetcher) Name() string {
	return "axeos"
}

func (f *AxeOSFetcher) Fetch(ctx context.Context, miner config.MinerConfig) ([]byte, error) {
	if miner.Address == "" {
		return nil, fmt.Errorf("no address configured for miner %s", miner.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+miner.Address+SystemInfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
