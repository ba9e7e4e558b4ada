package markethours

import (
	"log"
	"os"
	"strings"
	"time"
)

// NSE trading holidays, ISO dates in IST. Extend the map when the exchange
// publishes the next year's list; unknown years fall back to weekends only.
var nseHolidays = map[int][]string{
	2026: {
		"2026-01-26", // Republic Day
		"2026-02-17", // Mahashivratri (tentative)
		"2026-03-14", // Holi
		"2026-03-31", // Id-ul-Fitr (tentative)
		"2026-04-02", // Ram Navami (tentative)
		"2026-04-06", // Mahavir Jayanti
		"2026-04-10", // Good Friday
		"2026-04-14", // Dr. Ambedkar Jayanti
		"2026-05-01", // Maharashtra Day
		"2026-06-07", // Bakrid (tentative)
		"2026-07-06", // Muharram (tentative)
		"2026-08-15", // Independence Day
		"2026-08-16", // Janmashtami (tentative)
		"2026-09-05", // Milad-un-Nabi (tentative)
		"2026-10-02", // Gandhi Jayanti
		"2026-10-20", // Dussehra
		"2026-10-21", // Dussehra (tentative)
		"2026-11-05", // Diwali (tentative)
		"2026-11-06", // Diwali Balipratipada (tentative)
		"2026-11-07", // Bhai Dooj (tentative)
		"2026-11-19", // Guru Nanak Jayanti
		"2026-12-25", // Christmas
	},
}

var holidaySet = map[string]struct{}{}

func init() {
	for _, dates := range nseHolidays {
		for _, d := range dates {
			holidaySet[d] = struct{}{}
		}
	}
	// MARKET_HOLIDAYS adds ad-hoc closures (elections, mourning days)
	// without a rebuild: comma-separated YYYY-MM-DD values.
	for _, d := range strings.Split(os.Getenv("MARKET_HOLIDAYS"), ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", d, IST); err != nil {
			log.Printf("[markethours] ignoring invalid MARKET_HOLIDAYS entry %q", d)
			continue
		}
		holidaySet[d] = struct{}{}
	}
}

// IsHoliday reports whether the date (in IST) is an exchange holiday.
func IsHoliday(t time.Time) bool {
	_, ok := holidaySet[t.In(IST).Format("2006-01-02")]
	return ok
}
