// cmd/mockexchange — Demo exchange server.
// Serves the subset of the Binance spot REST API the engines use, backed by
// simulated random-walk prices, so the full stack can run without network
// access or rate limits. Point BINANCE_BASE_URL at it.
//
// Endpoints:
//
//	GET /api/v3/ping          — liveness, returns {}
//	GET /api/v3/ticker/price  — current simulated price for ?symbol=
//	GET /api/v3/klines        — deterministic synthetic candles
//	GET /ws                   — WebSocket stream of ticker updates
//
// Config (env vars):
//
//	MOCK_ADDR     — listen address (default: ":9002")
//	MOCK_SYMBOLS  — comma-separated SYMBOL:PRICE pairs (default: "BTCUSDT:65000,ETHUSDT:3200")
//	MOCK_TICK_MS  — price update interval milliseconds (default: "1000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trading-tools/internal/model"
)

// tickerMsg is the shape broadcast on /ws and returned by /api/v3/ticker/price.
type tickerMsg struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// book holds the simulated last price per symbol.
type book struct {
	mu     sync.RWMutex
	base   map[string]float64 // starting price, anchors kline synthesis
	prices map[string]float64
}

func newBook(seed map[string]float64) *book {
	prices := make(map[string]float64, len(seed))
	for s, p := range seed {
		prices[s] = p
	}
	return &book{base: seed, prices: prices}
}

func (b *book) get(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[symbol]
	return p, ok
}

// walk applies a ±0.1% random step to every symbol and returns the new quotes.
func (b *book) walk() []tickerMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]tickerMsg, 0, len(b.prices))
	for s, p := range b.prices {
		pct := (rand.Float64()*0.2 - 0.1) / 100.0
		np := p * (1 + pct)
		if np <= 0 {
			np = 0.01
		}
		b.prices[s] = np
		out = append(out, tickerMsg{Symbol: s, Price: strconv.FormatFloat(np, 'f', 8, 64)})
	}
	return out
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop update
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[mockexchange] upgrade error: %v", err)
			return
		}
		log.Printf("[mockexchange] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[mockexchange] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── REST handlers ────────────────────────────────────────────────────────────

// usedWeight mimics the X-MBX-USED-WEIGHT-1M counter so the client's limiter
// sees plausible values. Reset once a minute.
var usedWeight atomic.Int64

func weighted(cost int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used := usedWeight.Add(cost)
		w.Header().Set("X-MBX-USED-WEIGHT-1M", strconv.FormatInt(used, 10))
		next(w, r)
	}
}

func apiError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":-1100,"msg":%q}`, msg)
}

func tickerHandler(b *book) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price, ok := b.get(symbol)
		if !ok {
			apiError(w, http.StatusBadRequest, "Invalid symbol.")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tickerMsg{
			Symbol: symbol,
			Price:  strconv.FormatFloat(price, 'f', 8, 64),
		})
	}
}

// synthPrice is a deterministic price for (symbol, t): base plus two slow
// sine components. Re-requesting a range always yields identical candles.
func synthPrice(base float64, t int64) float64 {
	x := float64(t) / 3.6e6 // hours
	return base * (1 + 0.02*math.Sin(x/7.3) + 0.005*math.Sin(x/1.1))
}

func klinesHandler(b *book) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		symbol := q.Get("symbol")
		base, ok := b.base[symbol]
		if !ok {
			apiError(w, http.StatusBadRequest, "Invalid symbol.")
			return
		}
		interval := model.Interval(q.Get("interval"))
		step, err := interval.StepMs()
		if err != nil {
			apiError(w, http.StatusBadRequest, "Invalid interval.")
			return
		}
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 500 {
			limit = 500
		}
		if end == 0 {
			end = time.Now().UnixMilli()
		}
		// Align to the interval grid the way the real venue does.
		start = (start / step) * step

		rows := make([][]any, 0, limit)
		for t := start; t <= end && len(rows) < limit; t += step {
			open := synthPrice(base, t)
			close := synthPrice(base, t+step)
			high := math.Max(open, close) * 1.001
			low := math.Min(open, close) * 0.999
			vol := 100 + 50*math.Abs(math.Sin(float64(t)/8.6e7))
			f := func(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }
			rows = append(rows, []any{
				t, f(open), f(high), f(low), f(close), f(vol),
				t + step - 1, f(vol * close), 1000, f(vol / 2), f(vol * close / 2), "0",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rows)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[mockexchange] starting demo exchange server...")

	addr := envOrDefault("MOCK_ADDR", ":9002")
	symbolsEnv := envOrDefault("MOCK_SYMBOLS", "BTCUSDT:65000,ETHUSDT:3200")
	tickMs := envIntOrDefault("MOCK_TICK_MS", 1000)

	seed := parseSymbols(symbolsEnv)
	if len(seed) == 0 {
		log.Fatalf("[mockexchange] no symbols configured via MOCK_SYMBOLS")
	}
	log.Printf("[mockexchange] symbols: %v", seed)
	log.Printf("[mockexchange] tick interval: %dms", tickMs)

	b := newBook(seed)
	h := newHub()

	// Price walker: advances the book and streams quotes to WS clients.
	go func() {
		ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			for _, msg := range b.walk() {
				if bts, err := json.Marshal(msg); err == nil {
					h.broadcast(bts)
				}
			}
		}
	}()

	// Weight counter reset, matching the 1-minute window the header implies.
	go func() {
		for range time.Tick(time.Minute) {
			usedWeight.Store(0)
		}
	}()

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/api/v3/ping", weighted(1, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{}`)
	}))
	http.HandleFunc("/api/v3/ticker/price", weighted(2, tickerHandler(b)))
	http.HandleFunc("/api/v3/klines", weighted(2, klinesHandler(b)))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"mockexchange"}`)
	})

	log.Printf("[mockexchange] ✅ listening on %s  (set BINANCE_BASE_URL=http://localhost%s)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[mockexchange] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseSymbols(s string) map[string]float64 {
	result := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[mockexchange] skipping invalid symbol spec: %q", part)
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[mockexchange] skipping invalid price in %q", part)
			continue
		}
		result[strings.ToUpper(strings.TrimSpace(seg[0]))] = price
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
