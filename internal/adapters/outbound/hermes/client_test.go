package hermes

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/paymaster-oracle/internal/ports/outbound"
)

const ethUsdFeedHex = "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"

func ethUsdFeedID(t *testing.T) [32]byte {
	t.Helper()
	raw, err := hex.DecodeString(ethUsdFeedHex)
	if err != nil {
		t.Fatalf("bad feed hex: %v", err)
	}
	var id [32]byte
	copy(id[:], raw)
	return id
}

func latestBody(feedHex string, price string, conf string, expo int32, publishTime int64) string {
	return fmt.Sprintf(`{
		"binary": {"encoding": "hex", "data": ["deadbeef", "0102"]},
		"parsed": [{
			"id": %q,
			"price": {"price": %q, "conf": %q, "expo": %d, "publish_time": %d}
		}]
	}`, feedHex, price, conf, expo, publishTime)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:         baseURL,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		RateLimitPerMin: 60000,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.config.BaseURL != "https://hermes.pyth.network" {
		t.Errorf("BaseURL = %v, want default", client.config.BaseURL)
	}
	if client.config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", client.config.MaxRetries)
	}
	if client.config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", client.config.Timeout)
	}
}

func TestClient_FetchLatest(t *testing.T) {
	feedID := ethUsdFeedID(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		ids := r.URL.Query()["ids[]"]
		if len(ids) != 1 || ids[0] != ethUsdFeedHex {
			t.Errorf("unexpected ids query %v", ids)
		}
		_, _ = w.Write([]byte(latestBody("0x"+ethUsdFeedHex, "345678000000", "120000000", -8, 1700000000)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	quote, err := client.FetchLatest(context.Background(), feedID)
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if quote.Price != 345678000000 {
		t.Errorf("Price = %d, want 345678000000", quote.Price)
	}
	if quote.Conf != 120000000 {
		t.Errorf("Conf = %d, want 120000000", quote.Conf)
	}
	if quote.Expo != -8 {
		t.Errorf("Expo = %d, want -8", quote.Expo)
	}
	if quote.PublishTime != 1700000000 {
		t.Errorf("PublishTime = %d, want 1700000000", quote.PublishTime)
	}
}

func TestClient_FetchLatest_FeedMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"binary": {"encoding": "hex", "data": []}, "parsed": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchLatest(context.Background(), ethUsdFeedID(t))
	if !errors.Is(err, outbound.ErrFeedUnavailable) {
		t.Errorf("FetchLatest() error = %v, want ErrFeedUnavailable", err)
	}
}

func TestClient_FetchLatest_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "invalid feed id"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchLatest(context.Background(), ethUsdFeedID(t))
	if !errors.Is(err, outbound.ErrFeedUnavailable) {
		t.Errorf("FetchLatest() error = %v, want ErrFeedUnavailable", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (4xx must not retry)", got)
	}
}

func TestClient_FetchLatest_RetriesServerError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(latestBody(ethUsdFeedHex, "100", "1", -8, 1700000000)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	quote, err := client.FetchLatest(context.Background(), ethUsdFeedID(t))
	if err != nil {
		t.Fatalf("FetchLatest() error = %v", err)
	}
	if quote.Price != 100 {
		t.Errorf("Price = %d, want 100", quote.Price)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestClient_LatestUpdateData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(latestBody(ethUsdFeedHex, "100", "1", -8, 1700000000)))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	payloads, err := client.LatestUpdateData(context.Background(), [][32]byte{ethUsdFeedID(t)})
	if err != nil {
		t.Fatalf("LatestUpdateData() error = %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if hex.EncodeToString(payloads[0]) != "deadbeef" {
		t.Errorf("payload[0] = %x, want deadbeef", payloads[0])
	}
	if hex.EncodeToString(payloads[1]) != "0102" {
		t.Errorf("payload[1] = %x, want 0102", payloads[1])
	}
}

func TestClient_LatestUpdateData_Empty(t *testing.T) {
	client := newTestClient(t, "http://localhost:1")

	payloads, err := client.LatestUpdateData(context.Background(), nil)
	if err != nil {
		t.Fatalf("LatestUpdateData() error = %v", err)
	}
	if payloads != nil {
		t.Errorf("got %v, want nil for empty input", payloads)
	}
}

func TestClient_ReadOnlySide(t *testing.T) {
	client := newTestClient(t, "http://localhost:1")

	fee, err := client.UpdateFee(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("UpdateFee() error = %v", err)
	}
	if fee.Sign() != 0 {
		t.Errorf("UpdateFee() = %v, want 0", fee)
	}

	if err := client.SubmitUpdate(context.Background(), [][]byte{{0x01}}, fee); err != nil {
		t.Errorf("SubmitUpdate() error = %v, want nil", err)
	}
}

func TestPriceField_ToQuote_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		field priceField
	}{
		{"bad price", priceField{Price: "abc", Conf: "1"}},
		{"bad conf", priceField{Price: "1", Conf: "xyz"}},
		{"negative publish time", priceField{Price: "1", Conf: "1", PublishTime: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.field.toQuote(); err == nil {
				t.Error("toQuote() error = nil, want error")
			}
		})
	}
}
