package notification

import (
	"fmt"

	"divergence-systemv1/internal/alerts"
	"divergence-systemv1/internal/model"
	"divergence-systemv1/internal/session"
)

// TradeOpenedAlert formats an entry notification.
func TradeOpenedAlert(t model.Trade) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("Trade Opened (%s)", t.Variant),
		Message: fmt.Sprintf("%s BUY %d @ %.2f | SL %.2f | Target %.2f",
			t.Symbol, t.Quantity, t.EntryPrice, t.StopLoss, t.Target),
	}
}

// TradeClosedAlert formats an exit notification. Stop-loss and carryover
// exits escalate to WARNING so they stand out in the channel.
func TradeClosedAlert(t model.Trade) Alert {
	level := AlertInfo
	if t.ExitReason != model.ExitTarget {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("Trade Closed (%s, %s)", t.Variant, t.ExitReason),
		Message: fmt.Sprintf("%s exit @ %.2f | PnL %.2f",
			t.Symbol, t.ExitPrice, t.PnL),
	}
}

// EMATouchAlert formats a price-touched-EMA notification.
func EMATouchAlert(tc alerts.Touch) Alert {
	diff := tc.LTP - tc.EMA
	if diff < 0 {
		diff = -diff
	}
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s touched %d EMA", tc.Symbol, tc.Period),
		Message: fmt.Sprintf("LTP %.2f | EMA %.2f | diff %.2f (band ±%.2f%%)",
			tc.LTP, tc.EMA, diff, tc.Threshold),
	}
}

// ReportAlert formats the end-of-day summary notification.
func ReportAlert(r session.Report) Alert {
	if r.TradesTaken == 0 {
		return Alert{
			Level:   AlertInfo,
			Title:   "Daily Report " + r.Date,
			Message: r.Message,
		}
	}
	return Alert{
		Level: AlertInfo,
		Title: "Daily Report " + r.Date,
		Message: fmt.Sprintf(
			"Signals: %d | Trades: %d (W:%d L:%d) | Win rate: %s\nDaily PnL: %.2f | Capital: %.2f",
			r.SignalsDetected, r.TradesTaken, r.WinningTrades, r.LosingTrades,
			r.WinRate, r.DailyPnL, r.RunningCapital),
	}
}
