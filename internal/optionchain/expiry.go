package optionchain

import "time"

// ExpiryLayout is the provider's expiry format.
const ExpiryLayout = "02-01-2006"

// ParseExpiry parses a DD-MM-YYYY expiry as a UTC date.
func ParseExpiry(s string) (time.Time, error) {
    return time.ParseInLocation(ExpiryLayout, s, time.UTC)
}

// FormatExpiry renders t as DD-MM-YYYY.
func FormatExpiry(t time.Time) string { return t.Format(ExpiryLayout) }

// YearsToExpiry returns the time from now to expiry in years (365.25
// days), with a small positive floor for same-day or past expiries.
func YearsToExpiry(expiry, now time.Time) float64 {
    days := expiry.Sub(now).Hours() / 24
    if days <= 0 {
        return 0.0001
    }
    return days / 365.25
}

func lastThursday(year int, month time.Month) time.Time {
    // day 0 of the following month is the last day of month
    d := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
    for d.Weekday() != time.Thursday {
        d = d.AddDate(0, 0, -1)
    }
    return d
}

// NextMonthlyExpiry is the last Thursday of the month after now.
func NextMonthlyExpiry(now time.Time) string {
    now = now.UTC()
    first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
    return FormatExpiry(lastThursday(first.Year(), first.Month()))
}

// CandidateExpiries lists likely expiries in probe order: the nearest
// weekly Thursday (today included), this month's and next month's monthly
// expiry, then the following weekly Thursdays. Monthly dates come early
// because equities only list monthly contracts. Duplicates and dates
// before today are dropped.
func CandidateExpiries(now time.Time) []string {
    now = now.UTC()
    today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
    seen := make(map[string]struct{})
    var out []string
    add := func(t time.Time) {
        if t.Before(today) {
            return
        }
        s := FormatExpiry(t)
        if _, ok := seen[s]; ok {
            return
        }
        seen[s] = struct{}{}
        out = append(out, s)
    }

    offset := (int(time.Thursday) - int(today.Weekday()) + 7) % 7
    thursday := today.AddDate(0, 0, offset)
    add(thursday)
    add(lastThursday(today.Year(), today.Month()))
    next := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
    add(lastThursday(next.Year(), next.Month()))
    for w := 1; w < 5; w++ {
        add(thursday.AddDate(0, 0, 7*w))
    }
    return out
}
