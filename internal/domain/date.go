package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire format of calendar dates (ISO-8601).
const DateFormat = "2006-01-02"

// Date is a calendar date with day granularity, held at midnight UTC.
// The zero value means "absent" and encodes to JSON null.
type Date struct {
	t time.Time
}

// NewDate returns the normalized date for year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate parses an ISO-8601 date. Timestamps like "2024-01-15T00:00:00Z" are accepted and truncated.
func ParseDate(s string) (Date, error) {
	if len(s) > len(DateFormat) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return DateOf(t), nil
		}
	}
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) Before(x Date) bool { return d.t.Before(x.t) }
func (d Date) After(x Date) bool  { return d.t.After(x.t) }
func (d Date) Equal(x Date) bool  { return d.t.Equal(x.t) }

// AddMonths moves the date forward by n months. The day is clamped to the
// last day of the target month, so Jan 31 + 1 month is Feb 28 (or 29).
func (d Date) AddMonths(n int) Date {
	if d.IsZero() {
		return d
	}
	y, m, day := d.t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return NewDate(first.Year(), first.Month(), day)
}

// String formats the date as YYYY-MM-DD, or "" when absent.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateFormat)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*d = Date{}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if str == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(str)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
