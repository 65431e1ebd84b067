// Package model defines the crime statistics entities shared by the forecasting,
// ranking and persistence layers.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Zone is a discrete risk label for a location-month.
type Zone string

// Zone labels, ordered by severity red > amber > green.
const (
	ZoneRed   Zone = "red"
	ZoneAmber Zone = "amber"
	ZoneGreen Zone = "green"
)

// Severity returns the rank of the zone (green=1, amber=2, red=3, unknown=0).
func (z Zone) Severity() int {
	switch z {
	case ZoneRed:
		return 3
	case ZoneAmber:
		return 2
	case ZoneGreen:
		return 1
	default:
		return 0
	}
}

// Valid reports whether z is one of the three known labels.
func (z Zone) Valid() bool {
	return z.Severity() > 0
}

// Gender is a victim or requester gender.
type Gender string

// Gender values as stored in crime records.
const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "UNKNOWN"
)

// ParseGender normalizes "M", "F", "male" or "female" (any case). Anything else
// is rejected with ErrInvalidProfile.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return GenderMale, nil
	case "f", "female":
		return GenderFemale, nil
	default:
		return "", eris.Wrapf(ErrInvalidProfile, "gender %q", s)
	}
}

// NormalizeVictimGender maps a raw record value to a Gender. Empty or
// unrecognized values become GenderUnknown.
func NormalizeVictimGender(s string) Gender {
	g, err := ParseGender(s)
	if err != nil {
		return GenderUnknown
	}
	return g
}

// LocationStats is read-only reference data for one location.
type LocationStats struct {
	LocationID  string   `json:"location_id"`
	Name        string   `json:"name"`
	City        string   `json:"city"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	TotalCrimes int      `json:"total_crimes"`
	Population  *int     `json:"population"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l LocationStats) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// CrimeRecord is a single ingested crime. Immutable once stored.
type CrimeRecord struct {
	ID               int64   `json:"id,omitempty"`
	LocationID       string  `json:"location_id"`
	Year             int     `json:"year"`
	Month            int     `json:"month"`
	Day              int     `json:"day"`
	Weekday          int     `json:"weekday"`
	VictimAge        *int    `json:"victim_age"`
	VictimGender     *Gender `json:"victim_gender"`
	CrimeDescription string  `json:"crime_description"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
}

// Period returns the record's calendar month.
func (r CrimeRecord) Period() YearMonth {
	return YearMonth{Year: r.Year, Month: r.Month}
}

// MonthlyAggregate is the per (location, year, month) crime summary.
type MonthlyAggregate struct {
	LocationID         string   `json:"location_id"`
	Year               int      `json:"year"`
	Month              int      `json:"month"`
	CrimeCount         int      `json:"crime_count"`
	MaleVictims        int      `json:"male_victims"`
	FemaleVictims      int      `json:"female_victims"`
	AvgVictimAge       *float64 `json:"avg_victim_age"`
	ZoneClassification Zone     `json:"zone_classification"`
	CrimeRate          *float64 `json:"crime_rate"`
}

// Period returns the aggregate's calendar month.
func (a MonthlyAggregate) Period() YearMonth {
	return YearMonth{Year: a.Year, Month: a.Month}
}

// CrimeTypeCount is the number of records with one crime description.
type CrimeTypeCount struct {
	CrimeDescription string `json:"crime_description"`
	Count            int    `json:"count"`
}
