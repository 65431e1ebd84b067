package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crimesafe/internal/model"
)

var crimeRows = [][]string{
	{"\ufeffReport Number", "Date Reported", "Date of Occurrence", "City", "Crime Code", "Crime Description", "Victim Age", "Victim Gender"},
	{"1", "02-01-2020 00:00", "01-01-2020 01:11", "Bangalore", "576", "IDENTITY THEFT", "16", "M"},
	{"2", "01-01-2020 19:00", "01-01-2020 06:26", "Mysore", "128", "HOMICIDE", "37", "F"},
	{"3", "02-01-2020 05:00", "15-03-2021 14:30", "Bangalore", "271", "KIDNAPPING", "0", "X"},
	{"4", "", "not a date", "Bangalore", "1", "THEFT", "20", "M"},
	{"5", "", "7-4-2021 9:05", "Hubli", "1", "FRAUD", "", ""},
}

func crimeCSV(rows [][]string) string {
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(strings.Join(r, ","))
		sb.WriteString("\n")
	}
	return sb.String()
}

func assertCrimeBatch(t *testing.T, b *Batch) {
	t.Helper()
	assert.Equal(t, 5, b.Rows)
	assert.Equal(t, 1, b.Skipped)
	require.Len(t, b.Records, 4)

	first := b.Records[0]
	assert.Equal(t, "bangalore_12.97_77.59", first.LocationID)
	assert.Equal(t, 2020, first.Year)
	assert.Equal(t, 1, first.Month)
	assert.Equal(t, 1, first.Day)
	assert.Equal(t, int(time.Wednesday), first.Weekday)
	require.NotNil(t, first.VictimAge)
	assert.Equal(t, 16, *first.VictimAge)
	require.NotNil(t, first.VictimGender)
	assert.Equal(t, model.GenderMale, *first.VictimGender)
	assert.Equal(t, "IDENTITY THEFT", first.CrimeDescription)
	assert.InDelta(t, 12.9716, first.Latitude, 1e-9)

	kidnap := b.Records[2]
	assert.Nil(t, kidnap.VictimAge)
	require.NotNil(t, kidnap.VictimGender)
	assert.Equal(t, model.GenderUnknown, *kidnap.VictimGender)
	assert.Equal(t, int(time.Monday), kidnap.Weekday)

	unknownCity := b.Records[3]
	assert.Equal(t, "hubli_0_0", unknownCity.LocationID)
	assert.Nil(t, unknownCity.VictimAge)
	assert.Nil(t, unknownCity.VictimGender)
	assert.Equal(t, 4, unknownCity.Month)

	require.Len(t, b.Locations, 3)
	assert.Equal(t, "bangalore_12.97_77.59", b.Locations[0].LocationID)
	assert.Equal(t, "Bangalore", b.Locations[0].Name)
	assert.Equal(t, 2, b.Locations[0].TotalCrimes)
	assert.True(t, b.Locations[0].HasCoordinates())
	assert.Equal(t, "hubli_0_0", b.Locations[1].LocationID)
	assert.False(t, b.Locations[1].HasCoordinates())
	assert.Equal(t, "mysore_12.3_76.64", b.Locations[2].LocationID)
}

func TestReadCrimesCSV(t *testing.T) {
	r := NewReader(nil)
	b, err := r.ReadCrimesCSV(context.Background(), strings.NewReader(crimeCSV(crimeRows)), CSVOptions{})
	require.NoError(t, err)
	assertCrimeBatch(t, b)
}

func TestReadCrimesXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("crimes")
	require.NoError(t, err)
	for _, rowData := range crimeRows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "crimes.xlsx")
	require.NoError(t, f.Save(path))

	b, err := NewReader(nil).ReadCrimesXLSX(context.Background(), path, XLSXOptions{SheetName: "crimes"})
	require.NoError(t, err)
	assertCrimeBatch(t, b)
}

func TestReadCrimesCSV_MissingColumn(t *testing.T) {
	input := "Report Number,Date of Occurrence,Victim Age\n1,01-01-2020 01:11,20\n"
	_, err := NewReader(nil).ReadCrimesCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "city")
}

func TestReadCrimesCSV_Empty(t *testing.T) {
	_, err := NewReader(nil).ReadCrimesCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestReadCrimesCSV_CustomGazetteer(t *testing.T) {
	g := Gazetteer{"HUBLI": {Lat: 15.3647, Lon: 75.124}}
	input := crimeCSV([][]string{crimeRows[0], crimeRows[5]})

	b, err := NewReader(g).ReadCrimesCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, b.Locations, 1)
	assert.Equal(t, "hubli_15.36_75.12", b.Locations[0].LocationID)
	assert.True(t, b.Locations[0].HasCoordinates())
}

func TestReadCrimesCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReader(nil).ReadCrimesCSV(ctx, strings.NewReader(crimeCSV(crimeRows)), CSVOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseOccurrence(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"01-01-2020 01:11", time.Date(2020, 1, 1, 1, 11, 0, 0, time.UTC)},
		{"7-4-2021 9:05", time.Date(2021, 4, 7, 9, 5, 0, 0, time.UTC)},
		{"31-12-2022 23:59:30", time.Date(2022, 12, 31, 23, 59, 30, 0, time.UTC)},
		{"15-06-2023", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"2023-06-15", time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"2023-06-15T10:00:00Z", time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOccurrence(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	for _, bad := range []string{"", "  ", "32-01-2020 00:00", "yesterday"} {
		_, err := ParseOccurrence(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAgeAndGender(t *testing.T) {
	assert.Nil(t, parseAge(""))
	assert.Nil(t, parseAge("0"))
	assert.Nil(t, parseAge("-3"))
	assert.Nil(t, parseAge("abc"))
	assert.Equal(t, 42, *parseAge(" 42 "))

	assert.Nil(t, parseVictimGender(" "))
	assert.Equal(t, model.GenderFemale, *parseVictimGender("f"))
	assert.Equal(t, model.GenderUnknown, *parseVictimGender("X"))
}
