package gazette

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the day-first form used for ledger keys and logs.
const DateLayout = "02/01/2006"

// Date is a calendar day in UTC.
type Date struct {
	t time.Time
}

// NewDate returns the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate accepts DD/MM/YYYY or YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q: want DD/MM/YYYY or YYYY-MM-DD", s)
}

// DatesBetween returns every day from start to end inclusive, oldest first.
func DatesBetween(start, end Date) []Date {
	var out []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// String renders d as DD/MM/YYYY.
func (d Date) String() string { return d.t.Format(DateLayout) }

// ISO renders d as YYYY-MM-DD.
func (d Date) ISO() string { return d.t.Format(time.DateOnly) }

// IsZero reports whether d is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d is later than o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// MarshalText encodes d as DD/MM/YYYY.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes DD/MM/YYYY or YYYY-MM-DD.
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
