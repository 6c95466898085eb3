package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trading-tools/internal/model"
)

func TestTelegramNotifier_SendsEscapedMarkdown(t *testing.T) {
	var got struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottoken123/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token123", "chat42")
	n.baseURL = srv.URL

	err := n.Send(context.Background(), Alert{
		Level:   AlertWarning,
		Title:   "Closed: LONG BTCUSDT (stop_intrabar)",
		Message: "Exited at 93.1, pnl -690.00.",
	})
	if err != nil {
		t.Fatal(err)
	}

	if got.ChatID != "chat42" {
		t.Errorf("chat_id = %s", got.ChatID)
	}
	if got.ParseMode != "MarkdownV2" {
		t.Errorf("parse_mode = %s", got.ParseMode)
	}
	// Special characters in the payload must be escaped for MarkdownV2.
	if !strings.Contains(got.Text, `stop\_intrabar`) {
		t.Errorf("underscore not escaped in %q", got.Text)
	}
	if !strings.Contains(got.Text, `\-690`) {
		t.Errorf("dash not escaped in %q", got.Text)
	}
}

func TestTelegramNotifier_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "chat")
	n.baseURL = srv.URL
	if err := n.Send(context.Background(), Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestTradeClosedAlert_LossEscalatesToWarning(t *testing.T) {
	exit, pnl := 93.1, -690.0
	reason := model.ExitReasonStopIntrabar
	tr := &model.SimTrade{
		Symbol: "BTCUSDT", Side: model.SideLong, Portfolio: 10000,
		ExitPrice: &exit, Pnl: &pnl, ExitReason: &reason,
	}

	a := TradeClosedAlert(tr)
	if a.Level != AlertWarning {
		t.Errorf("level = %s, want warning", a.Level)
	}
	if !strings.Contains(a.Title, "stop_intrabar") {
		t.Errorf("title = %q", a.Title)
	}

	win := 500.0
	tr.Pnl = &win
	if a := TradeClosedAlert(tr); a.Level != AlertInfo {
		t.Errorf("winning trade level = %s, want info", a.Level)
	}
}

func TestMultiNotifier_SwallowsBackendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMultiNotifier(NewWebhookNotifier(srv.URL), NewLogNotifier())
	if err := m.Send(context.Background(), Alert{Title: "x"}); err != nil {
		t.Fatalf("multi notifier propagated backend error: %v", err)
	}
}
