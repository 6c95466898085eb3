package notification

import (
	"fmt"
	"strings"
	"time"

	"trading-tools/internal/model"
)

// Event types recorded in the notification log. The unique constraint on
// (event_type, reference_type, reference_id) makes delivery at-most-once.
const (
	EventSignalCreated = "signal_created"
	EventTradeOpened   = "trade_opened"
	EventStopHit       = "stop_hit"
	EventExitSignal    = "exit_signal"
	EventJobFinished   = "job_finished"
)

func fmtCandleTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}

// SignalAlert describes a freshly emitted entry signal.
func SignalAlert(sg *model.Signal) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Signal: %s %s %s", strings.ToUpper(string(sg.Side)), sg.Symbol, sg.Interval),
		Message: fmt.Sprintf("%s strategy fired on candle %s. Stop %.8g (trigger %.8g).",
			sg.Strategy, fmtCandleTime(sg.TriggerCandleTime), sg.StopPrice, sg.StopTriggerPrice),
	}
}

// TradeOpenedAlert describes an entry fill.
func TradeOpenedAlert(tr *model.SimTrade) Alert {
	entry := 0.0
	if tr.EntryPrice != nil {
		entry = *tr.EntryPrice
	}
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Opened: %s %s", strings.ToUpper(string(tr.Side)), tr.Symbol),
		Message: fmt.Sprintf("Filled at %.8g, invested %.2f (leverage %.2fx), stop trigger %.8g.",
			entry, tr.InvestedAmount, tr.Leverage, tr.StopTrigger),
	}
}

// TradeClosedAlert describes a stop or exit fill; level escalates to
// warning when the trade lost money.
func TradeClosedAlert(tr *model.SimTrade) Alert {
	exit, pnl := 0.0, 0.0
	if tr.ExitPrice != nil {
		exit = *tr.ExitPrice
	}
	if tr.Pnl != nil {
		pnl = *tr.Pnl
	}
	reason := ""
	if tr.ExitReason != nil {
		reason = *tr.ExitReason
	}

	level := AlertInfo
	if pnl < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Closed: %s %s (%s)", strings.ToUpper(string(tr.Side)), tr.Symbol, reason),
		Message: fmt.Sprintf("Exited at %.8g, pnl %+.2f on portfolio %.2f.",
			exit, pnl, tr.Portfolio),
	}
}

// JobFinishedAlert summarizes a terminal download job.
func JobFinishedAlert(j *model.DownloadJob) Alert {
	level := AlertInfo
	if j.Status == model.JobFailed {
		level = AlertCritical
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Download %s: %s %s", j.Status, j.Symbol, j.Interval),
		Message: fmt.Sprintf("%d/%d candles, %d gaps remaining.",
			j.CandlesDownloaded, j.CandlesExpected, j.GapsFound),
	}
}
