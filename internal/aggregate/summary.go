package aggregate

import (
	"sort"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/zone"
)

// YearlySummary rolls a location's monthly aggregates up to one year.
type YearlySummary struct {
	Year             int        `json:"year"`
	TotalCrimes      int        `json:"total_crimes"`
	AvgMonthlyCrimes float64    `json:"avg_monthly_crimes"`
	Months           int        `json:"months"`
	RedMonths        int        `json:"red_months"`
	AmberMonths      int        `json:"amber_months"`
	GreenMonths      int        `json:"green_months"`
	DominantZone     model.Zone `json:"dominant_zone"`
}

// Summarize groups aggregates by year, oldest year first. The average is over
// months that have an aggregate.
func Summarize(aggs []model.MonthlyAggregate) []YearlySummary {
	byYear := make(map[int]*YearlySummary)
	zonesByYear := make(map[int][]model.Zone)

	for _, a := range aggs {
		s, ok := byYear[a.Year]
		if !ok {
			s = &YearlySummary{Year: a.Year}
			byYear[a.Year] = s
		}
		s.TotalCrimes += a.CrimeCount
		s.Months++
		switch a.ZoneClassification {
		case model.ZoneRed:
			s.RedMonths++
		case model.ZoneAmber:
			s.AmberMonths++
		case model.ZoneGreen:
			s.GreenMonths++
		}
		zonesByYear[a.Year] = append(zonesByYear[a.Year], a.ZoneClassification)
	}

	out := make([]YearlySummary, 0, len(byYear))
	for year, s := range byYear {
		s.AvgMonthlyCrimes = round2(float64(s.TotalCrimes) / float64(s.Months))
		s.DominantZone = zone.MostCommon(zonesByYear[year])
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// LocationOverview is one row of the location listing for a year.
type LocationOverview struct {
	LocationID   string     `json:"location_id"`
	Name         string     `json:"name"`
	City         string     `json:"city"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Population   *int       `json:"population"`
	Year         int        `json:"year"`
	CrimeCount   int        `json:"crime_count"`
	DominantZone model.Zone `json:"zone_classification"`
}

// Overview lists every location with its crime count and dominant zone for
// year, ordered by location_id. Locations without aggregates in that year
// report zero crimes and the green zone.
func Overview(locations []model.LocationStats, aggs []model.MonthlyAggregate, year int) []LocationOverview {
	counts := make(map[string]int)
	zones := make(map[string][]model.Zone)
	for _, a := range aggs {
		if a.Year != year {
			continue
		}
		counts[a.LocationID] += a.CrimeCount
		zones[a.LocationID] = append(zones[a.LocationID], a.ZoneClassification)
	}

	out := make([]LocationOverview, 0, len(locations))
	for _, loc := range locations {
		dominant := zone.MostCommon(zones[loc.LocationID])
		if dominant == "" {
			dominant = model.ZoneGreen
		}
		out = append(out, LocationOverview{
			LocationID:   loc.LocationID,
			Name:         loc.Name,
			City:         loc.City,
			Latitude:     loc.Latitude,
			Longitude:    loc.Longitude,
			Population:   loc.Population,
			Year:         year,
			CrimeCount:   counts[loc.LocationID],
			DominantZone: dominant,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
