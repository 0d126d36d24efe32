package instruments

import (
	"fmt"
	"strings"
	"time"
)

// IST is the exchange-local zone used for expiry and time-guard calculations
var IST = time.FixedZone("IST", 5*3600+30*60)

var weekdays = map[string]time.Weekday{
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
	"SUNDAY":    time.Sunday,
}

// ParseWeekday parses an upper or lower case English weekday name
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("invalid expiry weekday %q", name)
	}
	return wd, nil
}

// NextWeeklyExpiry returns midnight IST of the next occurrence of weekday after from.
// When from already falls on weekday the following week is returned, so an intraday
// run never targets a same-day expiry.
func NextWeeklyExpiry(from time.Time, weekday time.Weekday) time.Time {
	local := from.In(IST)
	daysAhead := (int(weekday) - int(local.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}
	d := local.AddDate(0, 0, daysAhead)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}

var months = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// TradingSymbol formats a broker option symbol as ROOT+DDMMMYY+STRIKE+CE|PE,
// e.g. NIFTY25SEP2524700CE.
func TradingSymbol(symbol string, expiry time.Time, strike int, optionType string) (string, error) {
	root, err := Root(symbol)
	if err != nil {
		return "", err
	}
	ot := strings.ToUpper(optionType)
	if ot != "CE" && ot != "PE" {
		return "", fmt.Errorf("invalid option type %q", optionType)
	}
	if strike <= 0 {
		return "", fmt.Errorf("invalid strike %d", strike)
	}
	e := expiry.In(IST)
	return fmt.Sprintf("%s%02d%s%02d%d%s", root, e.Day(), months[e.Month()-1], e.Year()%100, strike, ot), nil
}
