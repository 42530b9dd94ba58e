package models

import (
	"fmt"
	"time"
)

// UsagePeriod is a billing period: one UTC calendar month.
type UsagePeriod struct {
	Year  int `db:"year" json:"year"`
	Month int `db:"month" json:"month"`
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) UsagePeriod {
	u := t.UTC()
	return UsagePeriod{Year: u.Year(), Month: int(u.Month())}
}

// Next returns the following period.
func (p UsagePeriod) Next() UsagePeriod {
	if p.Month == 12 {
		return UsagePeriod{Year: p.Year + 1, Month: 1}
	}
	return UsagePeriod{Year: p.Year, Month: p.Month + 1}
}

// Start returns the first instant of the period.
func (p UsagePeriod) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// IsValid checks the month range.
func (p UsagePeriod) IsValid() bool {
	return p.Year > 0 && p.Month >= 1 && p.Month <= 12
}

func (p UsagePeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
