package session

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"divergence-systemv1/internal/ledger"
	"divergence-systemv1/internal/model"
)

// VariantStats aggregates closed trades for one risk:reward variant.
type VariantStats struct {
	Trades int     `json:"trades"`
	PnL    float64 `json:"pnl"`
}

// Report is the end-of-day summary.
type Report struct {
	Date            string                  `json:"date"`
	SignalsDetected int                     `json:"total_signals_detected"`
	TradesTaken     int                     `json:"total_trades_taken"`
	WinningTrades   int                     `json:"winning_trades"`
	LosingTrades    int                     `json:"losing_trades"`
	BreakevenTrades int                     `json:"breakeven_trades"`
	WinRate         string                  `json:"win_rate"`
	DailyPnL        float64                 `json:"daily_pnl"`
	RunningCapital  float64                 `json:"running_capital"`
	InitialCapital  float64                 `json:"initial_capital"`
	Breakdown       map[string]VariantStats `json:"strategy_breakdown"`
	CESymbol        string                  `json:"ce_symbol"`
	PESymbol        string                  `json:"pe_symbol"`
	Trades          []model.Trade           `json:"trades"`
	Message         string                  `json:"message,omitempty"`
}

// BuildReport summarizes a finished session.
func BuildReport(ts time.Time, ceSymbol, peSymbol string, signals int, closed []model.Trade, led *ledger.Ledger) Report {
	r := Report{
		Date:            ts.Format("2006-01-02"),
		SignalsDetected: signals,
		TradesTaken:     len(closed),
		WinRate:         "N/A",
		DailyPnL:        round2(led.DailyPnL()),
		RunningCapital:  round2(led.Running()),
		InitialCapital:  led.Base(),
		Breakdown: map[string]VariantStats{
			model.VariantOneToOne:   {},
			model.VariantOneToThree: {},
		},
		CESymbol: ceSymbol,
		PESymbol: peSymbol,
		Trades:   closed,
	}

	for _, t := range closed {
		switch {
		case t.PnL > 0:
			r.WinningTrades++
		case t.PnL < 0:
			r.LosingTrades++
		default:
			r.BreakevenTrades++
		}
		vs := r.Breakdown[t.Variant]
		vs.Trades++
		vs.PnL = round2(vs.PnL + t.PnL)
		r.Breakdown[t.Variant] = vs
	}

	if len(closed) > 0 {
		r.WinRate = fmt.Sprintf("%.1f%%", float64(r.WinningTrades)/float64(len(closed))*100)
	} else {
		r.Message = "NO TRADES TAKEN TODAY"
		if signals > 0 {
			r.Message += fmt.Sprintf(" - %d signals detected but none triggered (price didn't break high)", signals)
		} else {
			r.Message += " - No divergence signals detected"
		}
	}
	return r
}

// JSON returns the indented JSON encoding of the report.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "    ")
}

// Log prints the boxed summary to the standard logger.
func (r *Report) Log() {
	rule := strings.Repeat("=", 60)
	log.Println(rule)
	log.Println("DAILY DIVERGENCE STRATEGY REPORT")
	log.Println(rule)
	log.Printf("Date: %s", r.Date)
	log.Printf("Signals Detected: %d", r.SignalsDetected)
	log.Printf("Trades Taken: %d", r.TradesTaken)
	if r.TradesTaken > 0 {
		log.Printf("Winning: %d | Losing: %d", r.WinningTrades, r.LosingTrades)
		log.Printf("Daily PnL: %.2f", r.DailyPnL)
		log.Printf("Running Capital: %.2f", r.RunningCapital)
	} else {
		log.Print(r.Message)
	}
	log.Println(rule)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
