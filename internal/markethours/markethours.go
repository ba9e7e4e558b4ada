// Package markethours answers one question for the day loop: is the NSE
// equity-derivatives session trading right now, and if not, when does it open
// next. The 9:15–15:30 IST window plus the holiday calendar gate the Fyers
// login, the data socket and the session lifecycle.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

var (
	sessionOpen  = hhmm{9, 15}
	sessionClose = hhmm{15, 30}
)

type hhmm struct{ h, m int }

func (x hhmm) minutes() int { return x.h*60 + x.m }

func (x hhmm) onDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), x.h, x.m, 0, 0, IST)
}

// IsTradingDay reports whether t falls on a weekday that is not an exchange
// holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(ist)
}

// IsMarketOpen reports whether t is inside the trading session.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	ist := t.In(IST)
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= sessionOpen.minutes() && hm < sessionClose.minutes()
}

// NextOpen returns the next session open at or after t: today's open when t
// is still before it on a trading day, otherwise the open of the next trading
// day.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	if open := sessionOpen.onDay(ist); ist.Before(open) && IsTradingDay(ist) {
		return open
	}
	d := ist.AddDate(0, 0, 1)
	// A Diwali week can stack a holiday onto a weekend; 10 days always
	// reaches a trading day.
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return sessionOpen.onDay(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return sessionOpen.onDay(ist.AddDate(0, 0, 1))
}

// TodayClose returns the session close on t's date.
func TodayClose(t time.Time) time.Time {
	return sessionClose.onDay(t.In(IST))
}

// WarmupUntil returns the start of the first full candle bucket at or after t.
// A session joining mid-bucket must not act on that partial candle.
func WarmupUntil(t time.Time, interval time.Duration) time.Time {
	b := t.Truncate(interval)
	if b.Equal(t) {
		return t
	}
	return b.Add(interval)
}

// StatusString renders the market state for startup and wait-loop logs.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TodayClose(t).Sub(t.In(IST))))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
