package revenue

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeRoundTripper struct {
	status int
	body   string
}

func (f fakeRoundTripper) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func TestMiningPoolSourceParsesBalanceAndHashrate(t *testing.T) {
	client := fakeRoundTripper{status: 200, body: `{"pendingBalance": 12345, "hashrate": 98.6}`}
	src := NewMiningPoolSource("pool-a", "https://pool.example/api", nil)
	src.client = client

	snap, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Source != "pool-a" {
		t.Errorf("expected source pool-a, got %s", snap.Source)
	}
	if snap.BalanceAtomic == nil || *snap.BalanceAtomic != 12345 {
		t.Errorf("expected balance 12345, got %v", snap.BalanceAtomic)
	}
	if snap.HashrateHS == nil || *snap.HashrateHS != 98.6 {
		t.Errorf("expected hashrate 98.6, got %v", snap.HashrateHS)
	}
}

func TestPriceOracleSourceParsesPrice(t *testing.T) {
	client := fakeRoundTripper{status: 200, body: `{"priceUsd": 67890.12}`}
	src := NewPriceOracleSource("oracle-a", "https://oracle.example/v1/ticker", nil)
	src.client = client

	snap, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.PriceUSD == nil || *snap.PriceUSD != 67890.12 {
		t.Errorf("expected price 67890.12, got %v", snap.PriceUSD)
	}
}

func TestLocalInferenceSourceParsesRequestCount(t *testing.T) {
	client := fakeRoundTripper{status: 200, body: `{"requestCount": 42}`}
	src := NewLocalInferenceSource("local-llm", "http://localhost:8000/v1/stats", nil)
	src.client = client

	snap, err := src.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.RequestCount == nil || *snap.RequestCount != 42 {
		t.Errorf("expected request count 42, got %v", snap.RequestCount)
	}
}

func TestSourceReturnsErrorOnNonOKStatus(t *testing.T) {
	client := fakeRoundTripper{status: 503, body: ""}
	src := NewPriceOracleSource("oracle-a", "https://oracle.example/v1/ticker", nil)
	src.client = client

	if _, err := src.Collect(context.Background()); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}
