package ingest

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/crimesafe/internal/model"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = eris.New("ingest: missing required column")

// Column headers of the crime export, matched case-insensitively.
const (
	ColReportNumber     = "report number"
	ColDateReported     = "date reported"
	ColDateOfOccurrence = "date of occurrence"
	ColCity             = "city"
	ColCrimeCode        = "crime code"
	ColCrimeDescription = "crime description"
	ColVictimAge        = "victim age"
	ColVictimGender     = "victim gender"
)

// occurrenceLayouts are tried in order. Day and month accept one or two digits.
var occurrenceLayouts = []string{
	"2-1-2006 15:04",
	"2-1-2006 15:04:05",
	"2-1-2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// progressEvery controls how often import progress is logged.
const progressEvery = 10000

// Batch is the result of reading one crime export.
type Batch struct {
	Records   []model.CrimeRecord   `json:"-"`
	Locations []model.LocationStats `json:"locations"`
	Rows      int                   `json:"rows"`
	Skipped   int                   `json:"skipped"`
}

// Reader turns crime export rows into records keyed by derived location ids.
// A Reader is not safe for concurrent use.
type Reader struct {
	gazetteer Gazetteer
	title     cases.Caser
}

// NewReader creates a Reader resolving cities through g.
func NewReader(g Gazetteer) *Reader {
	if g == nil {
		g = DefaultGazetteer()
	}
	return &Reader{gazetteer: g, title: cases.Title(language.English)}
}

// ReadCrimesCSV parses a crime export in CSV form.
func (r *Reader) ReadCrimesCSV(ctx context.Context, src io.Reader, opts CSVOptions) (*Batch, error) {
	opts.TrimSpace = true
	rows, errs := StreamCSV(ctx, src, opts)
	return r.collect(rows, errs)
}

// ReadCrimesXLSX parses a crime export saved as a workbook.
func (r *Reader) ReadCrimesXLSX(ctx context.Context, path string, opts XLSXOptions) (*Batch, error) {
	rows, errs := StreamXLSX(ctx, path, opts)
	return r.collect(rows, errs)
}

func (r *Reader) collect(rows <-chan []string, errs <-chan error) (*Batch, error) {
	var (
		idx       map[string]int
		headerErr error
		b         = &Batch{}
		locs      = make(map[string]*model.LocationStats)
	)

	for row := range rows {
		if headerErr != nil {
			continue
		}
		if idx == nil {
			idx, headerErr = headerIndex(row, ColDateOfOccurrence, ColCity)
			continue
		}

		b.Rows++
		rec, loc, ok := r.parseRow(idx, row)
		if !ok {
			b.Skipped++
			zap.L().Debug("ingest: skipping row without a parseable occurrence date",
				zap.Int("row", b.Rows),
			)
			continue
		}
		b.Records = append(b.Records, rec)
		if existing, seen := locs[loc.LocationID]; seen {
			existing.TotalCrimes++
		} else {
			loc.TotalCrimes = 1
			locs[loc.LocationID] = &loc
		}
		if b.Rows%progressEvery == 0 {
			zap.L().Info("ingest: progress", zap.Int("rows", b.Rows), zap.Int("skipped", b.Skipped))
		}
	}

	if err := <-errs; err != nil {
		return nil, err
	}
	if headerErr != nil {
		return nil, headerErr
	}
	if idx == nil {
		return nil, eris.Wrap(ErrMissingColumn, "ingest: empty input")
	}

	b.Locations = make([]model.LocationStats, 0, len(locs))
	for _, l := range locs {
		b.Locations = append(b.Locations, *l)
	}
	sort.Slice(b.Locations, func(i, j int) bool { return b.Locations[i].LocationID < b.Locations[j].LocationID })
	return b, nil
}

func (r *Reader) parseRow(idx map[string]int, row []string) (model.CrimeRecord, model.LocationStats, bool) {
	occurred, err := ParseOccurrence(field(idx, row, ColDateOfOccurrence))
	if err != nil {
		return model.CrimeRecord{}, model.LocationStats{}, false
	}

	city := field(idx, row, ColCity)
	if city == "" {
		city = "UNKNOWN"
	}
	p, known := r.gazetteer.Lookup(city)

	loc := model.LocationStats{
		LocationID: LocationID(city, p),
		Name:       r.title.String(strings.ToLower(city)),
		City:       city,
	}
	if known {
		loc.Latitude, loc.Longitude = &p.Lat, &p.Lon
	}

	rec := model.CrimeRecord{
		LocationID:       loc.LocationID,
		Year:             occurred.Year(),
		Month:            int(occurred.Month()),
		Day:              occurred.Day(),
		Weekday:          int(occurred.Weekday()),
		VictimAge:        parseAge(field(idx, row, ColVictimAge)),
		VictimGender:     parseVictimGender(field(idx, row, ColVictimGender)),
		CrimeDescription: field(idx, row, ColCrimeDescription),
		Latitude:         p.Lat,
		Longitude:        p.Lon,
	}
	return rec, loc, true
}

// ParseOccurrence parses a "DD-MM-YYYY HH:MM" timestamp, falling back to ISO forms.
func ParseOccurrence(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("ingest: empty date")
	}
	for _, layout := range occurrenceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unrecognized date %q", s)
}

// parseAge treats blanks, garbage and non-positive ages as unknown.
func parseAge(s string) *int {
	age, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || age <= 0 {
		return nil
	}
	return &age
}

func parseVictimGender(s string) *model.Gender {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	g := model.NormalizeVictimGender(s)
	return &g
}

// headerIndex maps normalized header names to column positions and checks
// that every required column is present.
func headerIndex(header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "ingest: column %q", col)
		}
	}
	return idx, nil
}

func field(idx map[string]int, row []string, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
