// cmd/backtest replays a strategy over stored candles without the server:
// point it at the database, pick a pair, interval and window, and it prints
// the performance report.
//
// Usage:
//
//	go run ./cmd/backtest --symbol=BTCUSDT --interval=1h \
//	    --from=1672531200000 --to=1704067200000 --strategy=breakout \
//	    --params='{"N_entrada":20,"M_salida":10}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"trading-tools/internal/backtest"
	"trading-tools/internal/model"
	"trading-tools/internal/store"
	"trading-tools/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	symbol := flag.String("symbol", "BTCUSDT", "Trading pair")
	interval := flag.String("interval", "1h", "Candle interval (1m..1M)")
	from := flag.Int64("from", 0, "Window start, ms epoch (0=all stored)")
	to := flag.Int64("to", 0, "Window end, ms epoch (0=all stored)")
	stratName := flag.String("strategy", "breakout", "Strategy name (see --list)")
	paramsJSON := flag.String("params", "{}", "Strategy params as JSON")
	capital := flag.Float64("capital", backtest.DefaultInitialCapital, "Initial capital")
	dbPath := flag.String("db", "data/trading_tools.db", "Path to SQLite database")
	list := flag.Bool("list", false, "List known strategies and exit")
	asJSON := flag.Bool("json", false, "Print the full result as JSON")
	flag.Parse()

	if *list {
		for _, d := range strategy.List() {
			fmt.Printf("%s\t%s\n", d.Name, d.Description)
			for _, p := range d.Parameters {
				fmt.Printf("    %s\n", p.Name)
			}
		}
		return
	}

	if !strategy.Known(*stratName) {
		log.Fatalf("[backtest] unknown strategy %q", *stratName)
	}
	iv := model.Interval(*interval)
	if !iv.Valid() {
		log.Fatalf("[backtest] invalid interval %q", *interval)
	}

	st, err := store.Open(store.Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      *dbPath,
	})
	if err != nil {
		log.Fatalf("[backtest] store open failed: %v", err)
	}
	defer st.Close()

	res, err := backtest.NewRunner(st, nil).Run(context.Background(), backtest.Request{
		Symbol:         strings.ToUpper(*symbol),
		Interval:       iv,
		StartMs:        *from,
		EndMs:          *to,
		Strategy:       *stratName,
		Params:         *paramsJSON,
		InitialCapital: *capital,
	})
	if err != nil {
		log.Fatalf("[backtest] run failed: %v", err)
	}
	if res.Error != "" {
		log.Fatalf("[backtest] %s", res.Error)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
		return
	}

	s := res.Summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles:        %-19d ║\n", len(res.EquityCurve))
	fmt.Printf("║  Trades:         %-19d ║\n", len(res.TradeLog))
	if res.Liquidated {
		fmt.Println("║  LIQUIDATED                          ║")
	}
	if s != nil {
		fmt.Printf("║  Net profit:     %-19.2f ║\n", s.NetProfit)
		fmt.Printf("║  Net profit %%:   %-19.2f ║\n", s.NetProfitPct)
		fmt.Printf("║  CAGR %%:         %-19.2f ║\n", s.CagrPct)
		fmt.Printf("║  Max drawdown %%: %-19.2f ║\n", s.MaxDrawdownPct)
		fmt.Printf("║  Sharpe:         %-19.2f ║\n", s.Sharpe)
		fmt.Printf("║  Sortino:        %-19.2f ║\n", s.Sortino)
		fmt.Printf("║  Win rate %%:     %-19.2f ║\n", s.WinRatePct)
		fmt.Printf("║  Expectancy:     %-19.2f ║\n", s.Expectancy)
		if s.ProfitFactor != nil {
			fmt.Printf("║  Profit factor:  %-19.2f ║\n", *s.ProfitFactor)
		}
		fmt.Printf("║  Time in mkt %%:  %-19.2f ║\n", s.TimeInMarketPct)
	}
	fmt.Println("╚══════════════════════════════════════╝")
}
