package model

import (
	"fmt"
	"time"
)

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// YearMonthOf returns the calendar month containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// Next returns the following month, rolling 13 over to January of the next year.
func (ym YearMonth) Next() YearMonth {
	return ym.Add(1)
}

// Add shifts the month by n (which may be negative).
func (ym YearMonth) Add(n int) YearMonth {
	idx := ym.index() + n
	return YearMonth{Year: idx / 12, Month: idx%12 + 1}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.index() < other.index()
}

// MonthsSince returns the number of months from other to ym.
func (ym YearMonth) MonthsSince(other YearMonth) int {
	return ym.index() - other.index()
}

// Valid reports whether the month is within 1..12.
func (ym YearMonth) Valid() bool {
	return ym.Month >= 1 && ym.Month <= 12
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}
