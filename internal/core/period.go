package core

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var ErrInvalidPeriod = errors.New("invalid period")

type (
	// Date is a calendar date at UTC midnight.
	Date struct {
		time.Time
	}

	// Period identifies a calendar month. It is persisted as the first day of
	// that month.
	Period struct {
		Year  int
		Month time.Month
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the clock part of t, keeping the calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Before reports whether d falls on an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a quoted YYYY-MM-DD string")
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NewPeriod validates year and month and returns the period.
func NewPeriod(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, month)
	}
	if year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, year)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// PeriodOf returns the period d falls in.
func PeriodOf(d Date) Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

// ParsePeriodStart parses the persisted first-of-month form of a period.
func ParsePeriodStart(s string) (Period, error) {
	d, err := ParseDate(s)
	if err != nil {
		return Period{}, err
	}
	if d.Day() != 1 {
		return Period{}, fmt.Errorf("%w: %s is not the first day of a month", ErrInvalidPeriod, s)
	}
	return PeriodOf(d), nil
}

// Start returns the first day of the period.
func (p Period) Start() Date {
	return NewDate(p.Year, int(p.Month), 1)
}

func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Add moves the period by n months, n may be negative.
func (p Period) Add(n int) Period {
	idx := p.Year*12 + int(p.Month) - 1 + n
	return Period{Year: idx / 12, Month: time.Month(idx%12 + 1)}
}

// Days returns the number of days in the period.
func (p Period) Days() int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) MarshalJSON() ([]byte, error) {
	return p.Start().MarshalJSON()
}

func (p *Period) UnmarshalJSON(b []byte) error {
	var d Date
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	if d.Day() != 1 {
		return fmt.Errorf("%w: %s is not the first day of a month", ErrInvalidPeriod, d)
	}
	*p = PeriodOf(d)
	return nil
}

// ProjectDay returns the date in target with the same day of month as d,
// clamped to the last day of target.
func ProjectDay(d Date, target Period) Date {
	day := d.Day()
	if last := target.Days(); day > last {
		day = last
	}
	return NewDate(target.Year, int(target.Month), day)
}
