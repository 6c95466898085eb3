// cmd/server runs the full engine stack behind one HTTP API: the candle
// store, download engine, 15s signal scanner, live trade tracker, derived
// metrics, backtests and the /ws event stream, plus a separate metrics and
// health listener.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-tools/config"
	"trading-tools/internal/api"
	"trading-tools/internal/backtest"
	"trading-tools/internal/binance"
	"trading-tools/internal/derived"
	"trading-tools/internal/download"
	"trading-tools/internal/logger"
	"trading-tools/internal/metrics"
	"trading-tools/internal/notification"
	"trading-tools/internal/scanner"
	"trading-tools/internal/store"
	"trading-tools/internal/tracker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	cfg := config.Load()
	logger.Init("server", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[server] starting...")

	st, err := store.Open(store.Config{DatabaseURL: cfg.DatabaseURL, DBPath: cfg.DBPath})
	if err != nil {
		log.Fatalf("[server] store open failed: %v", err)
	}
	defer st.Close()

	m := metrics.New()
	health := metrics.NewHealthStatus()
	client := binance.New(cfg.BinanceBaseURL)
	notifier := buildNotifier(cfg)

	dl := download.New(st, client, notifier, m)
	de := derived.New(st, m)
	runner := backtest.NewRunner(st, m)
	registry := backtest.NewRegistry()
	hub := api.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := scanner.New(st, dl, notifier, hub, m)
	go func() {
		health.SetScannerOK(true)
		sc.Run(ctx)
		health.SetScannerOK(false)
	}()

	tk := tracker.New(st, dl, client, notifier, hub, m)
	go func() {
		health.SetTrackerOK(true)
		tk.Run(ctx)
		health.SetTrackerOK(false)
	}()

	health.StartLivenessChecker(ctx, st.DB(), 15*time.Second)
	go watchBinanceStatus(ctx, client, health)

	msrv := metrics.NewServer(cfg.MetricsAddr(), health)
	msrv.Start()

	srv := api.NewServer(st, client, dl, de, runner, registry, hub)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("[server] API listening on %s", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[server] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("[server] shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	msrv.Stop(shutdownCtx)
}

// buildNotifier wires the configured alert backends; none configured means
// log-only delivery.
func buildNotifier(cfg *config.Config) notification.Notifier {
	var backends []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Printf("[server] telegram notifications enabled")
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Printf("[server] webhook notifications enabled")
	}
	if len(backends) == 0 {
		return notification.NewLogNotifier()
	}
	return notification.NewMultiNotifier(backends...)
}

// watchBinanceStatus mirrors the limiter state into the health endpoint.
func watchBinanceStatus(ctx context.Context, client *binance.Client, health *metrics.HealthStatus) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health.SetBinanceStatus(string(client.Status()))
		}
	}
}
