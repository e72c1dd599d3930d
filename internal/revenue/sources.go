package revenue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/antigravity-dev/orchestrator/internal/model"
)

// httpClient is the narrow slice of *http.Client the HTTP-backed sources
// need, so they can be tested against a fake RoundTripper.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func doJSON(ctx context.Context, client httpClient, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("revenue: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revenue: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revenue: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("revenue: decode %s: %w", url, err)
	}
	return nil
}

// MiningPoolSource polls a mining pool's public stats endpoint for the
// account's pending balance.
type MiningPoolSource struct {
	name   string
	url    string
	client httpClient
}

// NewMiningPoolSource constructs a Source against a mining pool's JSON
// stats endpoint (e.g. "https://pool.example/api/accounts/<wallet>").
func NewMiningPoolSource(name, url string, client *http.Client) *MiningPoolSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &MiningPoolSource{name: name, url: url, client: client}
}

func (s *MiningPoolSource) Name() string { return s.name }

func (s *MiningPoolSource) Collect(ctx context.Context) (model.RevenueSnapshot, error) {
	var body struct {
		PendingBalance int64   `json:"pendingBalance"`
		HashrateHS     float64 `json:"hashrate"`
	}
	if err := doJSON(ctx, s.client, s.url, &body); err != nil {
		return model.RevenueSnapshot{}, err
	}
	return model.RevenueSnapshot{
		Source:        s.name,
		CollectedAt:   time.Now(),
		BalanceAtomic: &body.PendingBalance,
		HashrateHS:    &body.HashrateHS,
	}, nil
}

// PriceOracleSource polls a price oracle for the spot price of the
// configured asset, denominated in USD.
type PriceOracleSource struct {
	name   string
	url    string
	client httpClient
}

// NewPriceOracleSource constructs a Source against a price oracle's JSON
// endpoint (e.g. a "/v1/ticker" style API returning a USD price).
func NewPriceOracleSource(name, url string, client *http.Client) *PriceOracleSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PriceOracleSource{name: name, url: url, client: client}
}

func (s *PriceOracleSource) Name() string { return s.name }

func (s *PriceOracleSource) Collect(ctx context.Context) (model.RevenueSnapshot, error) {
	var body struct {
		PriceUSD float64 `json:"priceUsd"`
	}
	if err := doJSON(ctx, s.client, s.url, &body); err != nil {
		return model.RevenueSnapshot{}, err
	}
	return model.RevenueSnapshot{
		Source:      s.name,
		CollectedAt: time.Now(),
		PriceUSD:    &body.PriceUSD,
	}, nil
}

// LocalInferenceSource polls a locally-hosted inference endpoint's
// request-count metric, used as a proxy for paid API usage on this host.
type LocalInferenceSource struct {
	name   string
	url    string
	client httpClient
}

// NewLocalInferenceSource constructs a Source against a local inference
// server's metrics endpoint (e.g. "http://localhost:8000/v1/stats").
func NewLocalInferenceSource(name, url string, client *http.Client) *LocalInferenceSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &LocalInferenceSource{name: name, url: url, client: client}
}

func (s *LocalInferenceSource) Name() string { return s.name }

func (s *LocalInferenceSource) Collect(ctx context.Context) (model.RevenueSnapshot, error) {
	var body struct {
		RequestCount int64 `json:"requestCount"`
	}
	if err := doJSON(ctx, s.client, s.url, &body); err != nil {
		return model.RevenueSnapshot{}, err
	}
	return model.RevenueSnapshot{
		Source:       s.name,
		CollectedAt:  time.Now(),
		RequestCount: &body.RequestCount,
	}, nil
}
