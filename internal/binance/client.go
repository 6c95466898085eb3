// Package binance is the rate-limited Binance spot market-data client.
// All requests share one critical section so pacing, weight accounting and
// backoff state stay race-free across engines.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"trading-tools/internal/model"
)

const (
	// DefaultBaseURL is the Binance spot REST endpoint.
	DefaultBaseURL = "https://api.binance.com"

	// MaxKlineLimit is the per-request candle cap on /api/v3/klines.
	MaxKlineLimit = 500

	defaultWeightLimit = 1200
	warningRatio       = 0.9
	minRequestGap      = 100 * time.Millisecond
	maxAttempts        = 8
	baseBackoff        = time.Second
	maxBackoff         = 60 * time.Second
	requestTimeout     = 30 * time.Second
)

// Status classifies the limiter state for health reporting.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusBackoff Status = "backoff"
	StatusBlocked Status = "blocked"
)

// Client talks to the Binance spot REST API with weight tracking, request
// pacing and exponential backoff on 429/418.
type Client struct {
	http *resty.Client

	mu           sync.Mutex
	usedWeight   int64
	weightLimit  int64
	lastRequest  time.Time
	blockedUntil time.Time
	backoffUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client against baseURL (DefaultBaseURL when empty).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(requestTimeout).
			SetHeader("Accept", "application/json"),
		weightLimit: defaultWeightLimit,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Status reports the limiter state: blocked and backoff windows first, then
// the weight warning threshold.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	switch {
	case now.Before(c.blockedUntil):
		return StatusBlocked
	case now.Before(c.backoffUntil):
		return StatusBackoff
	case float64(c.usedWeight)/float64(c.weightLimit) >= warningRatio:
		return StatusWarning
	default:
		return StatusOK
	}
}

// UsageRatio is used_weight over the per-minute limit. The tracker doubles
// its poll period when this exceeds 0.8.
func (c *Client) UsageRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.usedWeight) / float64(c.weightLimit)
}

// UsedWeight exposes the last reported X-MBX-USED-WEIGHT-1M value.
func (c *Client) UsedWeight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedWeight
}

// expBackoff is min(base·2^attempt, 60s) with half-to-full jitter.
func expBackoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
}

func retryAfter(resp *resty.Response, fallback time.Duration) time.Duration {
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// do performs one rate-limited GET. It holds the client mutex for the whole
// exchange: Binance weight limits are account-global, so serializing is the
// simplest correct policy.
func (c *Client) do(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := c.now()

		// Honor an active ban, then an active throttle window.
		if wait := c.blockedUntil.Sub(now); wait > 0 {
			log.Printf("[binance] blocked, waiting %s", wait.Round(time.Second))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			now = c.now()
		}
		if wait := c.backoffUntil.Sub(now); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			now = c.now()
		}
		if gap := minRequestGap - now.Sub(c.lastRequest); gap > 0 {
			if err := c.sleep(ctx, gap); err != nil {
				return nil, err
			}
		}

		c.lastRequest = c.now()
		resp, err := c.http.R().SetContext(ctx).SetQueryParams(query).Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if err := c.sleep(ctx, expBackoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if w := resp.Header().Get("X-MBX-USED-WEIGHT-1M"); w != "" {
			if parsed, perr := strconv.ParseInt(w, 10, 64); perr == nil {
				c.usedWeight = parsed
			}
		}

		switch resp.StatusCode() {
		case 200:
			return resp.Body(), nil
		case 429:
			delay := retryAfter(resp, expBackoff(attempt))
			c.backoffUntil = c.now().Add(delay)
			log.Printf("[binance] 429 throttled, backing off %s (attempt %d/%d)", delay.Round(time.Millisecond), attempt+1, maxAttempts)
			lastErr = fmt.Errorf("throttled (429)")
		case 418:
			delay := retryAfter(resp, maxBackoff)
			c.blockedUntil = c.now().Add(delay)
			log.Printf("[binance] 418 IP ban, blocked for %s", delay.Round(time.Second))
			lastErr = fmt.Errorf("banned (418)")
		default:
			lastErr = fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode(), resp.String())
			if err := c.sleep(ctx, expBackoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%s after %d attempts: %v: %w", path, maxAttempts, lastErr, model.ErrUpstreamUnavailable)
}

// GetKlines fetches up to limit (≤500) candles for [startMs, endMs]. Price
// and volume fields are kept as the venue's verbatim decimal strings.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval model.Interval, startMs, endMs int64, limit int) ([]model.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("get klines: %w: %q", model.ErrBadInterval, interval)
	}
	if limit <= 0 || limit > MaxKlineLimit {
		limit = MaxKlineLimit
	}

	body, err := c.do(ctx, "/api/v3/klines", map[string]string{
		"symbol":    symbol,
		"interval":  string(interval),
		"startTime": strconv.FormatInt(startMs, 10),
		"endTime":   strconv.FormatInt(endMs, 10),
		"limit":     strconv.Itoa(limit),
	})
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("klines decode: %w", err)
	}

	downloadedAt := model.NowISO()
	candles := make([]model.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 11 {
			return nil, fmt.Errorf("klines decode: row has %d fields", len(k))
		}
		cd := model.Candle{
			Symbol:       symbol,
			Interval:     interval,
			Source:       model.SourceBinanceSpot,
			DownloadedAt: downloadedAt,
		}
		if err := json.Unmarshal(k[0], &cd.OpenTime); err != nil {
			return nil, fmt.Errorf("klines decode open_time: %w", err)
		}
		for i, dst := range []*string{&cd.Open, &cd.High, &cd.Low, &cd.Close, &cd.Volume} {
			if err := json.Unmarshal(k[1+i], dst); err != nil {
				return nil, fmt.Errorf("klines decode field %d: %w", 1+i, err)
			}
		}
		if err := json.Unmarshal(k[6], &cd.CloseTime); err != nil {
			return nil, fmt.Errorf("klines decode close_time: %w", err)
		}
		if err := json.Unmarshal(k[7], &cd.QuoteAssetVolume); err != nil {
			return nil, fmt.Errorf("klines decode quote volume: %w", err)
		}
		if err := json.Unmarshal(k[8], &cd.NumberOfTrades); err != nil {
			return nil, fmt.Errorf("klines decode trade count: %w", err)
		}
		if err := json.Unmarshal(k[9], &cd.TakerBuyBaseVol); err != nil {
			return nil, fmt.Errorf("klines decode taker base: %w", err)
		}
		if err := json.Unmarshal(k[10], &cd.TakerBuyQuoteVol); err != nil {
			return nil, fmt.Errorf("klines decode taker quote: %w", err)
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// GetTickerPrice fetches the current spot price for a symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.do(ctx, "/api/v3/ticker/price", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, err
	}

	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("ticker decode: %w", err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ticker price %q: %w", out.Price, err)
	}
	return price, nil
}
