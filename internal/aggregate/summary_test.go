package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crimesafe/internal/model"
)

func agg(loc string, year, month, count int, z model.Zone) model.MonthlyAggregate {
	return model.MonthlyAggregate{LocationID: loc, Year: year, Month: month, CrimeCount: count, ZoneClassification: z}
}

func TestSummarize(t *testing.T) {
	aggs := []model.MonthlyAggregate{
		agg("loc_A", 2024, 1, 60, model.ZoneRed),
		agg("loc_A", 2023, 1, 10, model.ZoneGreen),
		agg("loc_A", 2024, 2, 30, model.ZoneAmber),
		agg("loc_A", 2024, 3, 25, model.ZoneAmber),
		agg("loc_A", 2023, 2, 5, model.ZoneGreen),
	}

	got := Summarize(aggs)
	require.Len(t, got, 2)

	assert.Equal(t, YearlySummary{
		Year: 2023, TotalCrimes: 15, AvgMonthlyCrimes: 7.5, Months: 2,
		GreenMonths: 2, DominantZone: model.ZoneGreen,
	}, got[0])
	assert.Equal(t, YearlySummary{
		Year: 2024, TotalCrimes: 115, AvgMonthlyCrimes: 38.33, Months: 3,
		RedMonths: 1, AmberMonths: 2, DominantZone: model.ZoneAmber,
	}, got[1])
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize(nil))
}

func TestOverview(t *testing.T) {
	locs := []model.LocationStats{
		{LocationID: "loc_B", Name: "Harbor"},
		{LocationID: "loc_A", Name: "Downtown"},
	}
	aggs := []model.MonthlyAggregate{
		agg("loc_A", 2024, 1, 60, model.ZoneRed),
		agg("loc_A", 2024, 2, 10, model.ZoneGreen),
		agg("loc_A", 2023, 2, 99, model.ZoneRed),
	}

	got := Overview(locs, aggs, 2024)
	require.Len(t, got, 2)
	assert.Equal(t, "loc_A", got[0].LocationID)
	assert.Equal(t, 70, got[0].CrimeCount)
	// A red/green tie resolves to the more severe zone.
	assert.Equal(t, model.ZoneRed, got[0].DominantZone)
	assert.Equal(t, 2024, got[0].Year)

	assert.Equal(t, "loc_B", got[1].LocationID)
	assert.Zero(t, got[1].CrimeCount)
	assert.Equal(t, model.ZoneGreen, got[1].DominantZone)
}
