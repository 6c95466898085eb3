package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"trading-tools/internal/model"
)

// newTestClient points a client at srv with sleeps collapsed to instant so
// backoff paths run fast. Returns the recorded sleep durations.
func newTestClient(srv *httptest.Server) (*Client, *[]time.Duration) {
	c := New(srv.URL)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

const klineRow = `[1609459200000,"29000.0","29100.5","28900.1","29050.2","123.45",1609462799999,"3580000.0",2500,"60.0","1740000.0","0"]`

func TestNew_DefaultsAndTimeout(t *testing.T) {
	c := New("")
	if got := c.http.BaseURL; got != DefaultBaseURL {
		t.Errorf("base url = %s, want %s", got, DefaultBaseURL)
	}
	if got := c.http.GetClient().Timeout; got != 30*time.Second {
		t.Errorf("request timeout = %s, want 30s", got)
	}
}

func TestGetKlines_ParsesVerbatimStrings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		if got := r.URL.Query().Get("limit"); got != "500" {
			t.Errorf("limit = %s", got)
		}
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "37")
		fmt.Fprintf(w, "[%s]", klineRow)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", model.Interval1h, 1609459200000, 1609462799999, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(candles))
	}

	got := candles[0]
	if got.OpenTime != 1609459200000 || got.CloseTime != 1609462799999 {
		t.Errorf("times = %d/%d", got.OpenTime, got.CloseTime)
	}
	// Prices stay the exact strings the venue sent.
	if got.Open != "29000.0" || got.High != "29100.5" || got.Low != "28900.1" || got.Close != "29050.2" {
		t.Errorf("ohlc = %s/%s/%s/%s", got.Open, got.High, got.Low, got.Close)
	}
	if got.NumberOfTrades != 2500 {
		t.Errorf("trades = %d", got.NumberOfTrades)
	}
	if got.Source != model.SourceBinanceSpot {
		t.Errorf("source = %s", got.Source)
	}

	if c.UsedWeight() != 37 {
		t.Errorf("used weight = %d, want 37", c.UsedWeight())
	}
}

func TestGetTickerPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"ETHUSDT","price":"1850.42"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv)
	price, err := c.GetTickerPrice(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if price != 1850.42 {
		t.Errorf("price = %v", price)
	}
}

func TestDo_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"100"}`)
	}))
	defer srv.Close()

	c, slept := newTestClient(srv)
	price, err := c.GetTickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if price != 100 {
		t.Errorf("price = %v", price)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	// The Retry-After window must be honored on the second pass.
	var sawRetryAfter bool
	for _, d := range *slept {
		if d >= 1900*time.Millisecond && d <= 2*time.Second {
			sawRetryAfter = true
		}
	}
	if !sawRetryAfter {
		t.Errorf("no ~2s backoff sleep recorded: %v", *slept)
	}
}

func TestDo_418SetsBlocked(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTeapot)
			return
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"100"}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv)

	// Freeze time so the blocked window is observable through Status.
	frozen := time.Now()
	c.now = func() time.Time { return frozen }

	if _, err := c.GetTickerPrice(context.Background(), "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	// blocked_until = frozen + 30s, and now() still reports frozen.
	if got := c.Status(); got != StatusBlocked {
		t.Errorf("status = %s, want blocked", got)
	}
}

func TestDo_ExhaustionReturnsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv)
	_, err := c.GetTickerPrice(context.Background(), "BTCUSDT")
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Errorf("err = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestStatus_WarningAtNinetyPercent(t *testing.T) {
	c := New("http://localhost:0")
	c.usedWeight = 1080 // 1080/1200 = 0.9
	if got := c.Status(); got != StatusWarning {
		t.Errorf("status = %s, want warning", got)
	}
	c.usedWeight = 1079
	if got := c.Status(); got != StatusOK {
		t.Errorf("status = %s, want ok", got)
	}
}

func TestGetKlines_RejectsBadInterval(t *testing.T) {
	c := New("http://localhost:0")
	_, err := c.GetKlines(context.Background(), "BTCUSDT", "7m", 0, 1000, 0)
	if !errors.Is(err, model.ErrBadInterval) {
		t.Errorf("err = %v, want ErrBadInterval", err)
	}
}
