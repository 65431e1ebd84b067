// Package aggregate rolls raw crime records up into per-location monthly
// aggregates and summarizes those aggregates by year.
package aggregate

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/zone"
)

type key struct {
	locationID string
	period     model.YearMonth
}

type accumulator struct {
	count   int
	male    int
	female  int
	ageSum  int
	ageSeen int
}

// Build groups records by (location_id, year, month) and returns one
// MonthlyAggregate per group, ordered by location then month. CrimeRate is
// crimes per 1000 residents and is nil when the location has no population.
func Build(records []model.CrimeRecord, locations map[string]model.LocationStats, zones zone.Policy) ([]model.MonthlyAggregate, error) {
	groups := make(map[key]*accumulator)
	for _, r := range records {
		if r.LocationID == "" {
			return nil, eris.Wrapf(model.ErrInvalidRequest, "aggregate: record %d has no location_id", r.ID)
		}
		if !r.Period().Valid() {
			return nil, eris.Wrapf(model.ErrInvalidRequest, "aggregate: record %d has invalid period %d-%d", r.ID, r.Year, r.Month)
		}

		k := key{locationID: r.LocationID, period: r.Period()}
		acc, ok := groups[k]
		if !ok {
			acc = &accumulator{}
			groups[k] = acc
		}
		acc.count++
		if r.VictimGender != nil {
			switch *r.VictimGender {
			case model.GenderMale:
				acc.male++
			case model.GenderFemale:
				acc.female++
			}
		}
		if r.VictimAge != nil && *r.VictimAge >= 0 {
			acc.ageSum += *r.VictimAge
			acc.ageSeen++
		}
	}

	out := make([]model.MonthlyAggregate, 0, len(groups))
	for k, acc := range groups {
		agg := model.MonthlyAggregate{
			LocationID:         k.locationID,
			Year:               k.period.Year,
			Month:              k.period.Month,
			CrimeCount:         acc.count,
			MaleVictims:        acc.male,
			FemaleVictims:      acc.female,
			ZoneClassification: zones.Classify(acc.count),
		}
		if acc.ageSeen > 0 {
			avg := round2(float64(acc.ageSum) / float64(acc.ageSeen))
			agg.AvgVictimAge = &avg
		}
		if loc, ok := locations[k.locationID]; ok {
			agg.CrimeRate = CrimeRate(acc.count, loc.Population)
		}
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID != out[j].LocationID {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].Period().Before(out[j].Period())
	})
	return out, nil
}

// CrimeRate returns count per 1000 residents, or nil when population is
// unknown or not positive.
func CrimeRate(count int, population *int) *float64 {
	if population == nil || *population <= 0 {
		return nil
	}
	rate := round2(float64(count) / float64(*population) * 1000)
	return &rate
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
