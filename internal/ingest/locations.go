package ingest

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/geo"
	"github.com/sells-group/crimesafe/internal/model"
)

// Column headers of the locations reference file.
const (
	ColLocationID = "location_id"
	ColName       = "name"
	ColLatitude   = "latitude"
	ColLongitude  = "longitude"
	ColPopulation = "population"
)

// ReadLocationsCSV parses a locations reference file with the columns
// location_id, name, city, latitude, longitude and population. Only
// location_id is required; blank cells stay unset.
func ReadLocationsCSV(ctx context.Context, src io.Reader, opts CSVOptions) ([]model.LocationStats, error) {
	opts.TrimSpace = true
	rows, errs := StreamCSV(ctx, src, opts)

	var (
		idx     map[string]int
		out     []model.LocationStats
		line    int
		failure error
	)
	for row := range rows {
		line++
		if failure != nil {
			continue
		}
		if idx == nil {
			idx, failure = headerIndex(row, ColLocationID)
			continue
		}
		loc, err := parseLocation(idx, row)
		if err != nil {
			failure = eris.Wrapf(err, "ingest: locations line %d", line)
			continue
		}
		out = append(out, loc)
	}

	if err := <-errs; err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if idx == nil {
		return nil, eris.Wrap(ErrMissingColumn, "ingest: empty locations file")
	}
	return out, nil
}

func parseLocation(idx map[string]int, row []string) (model.LocationStats, error) {
	loc := model.LocationStats{
		LocationID: field(idx, row, ColLocationID),
		Name:       field(idx, row, ColName),
		City:       field(idx, row, ColCity),
	}
	if loc.LocationID == "" {
		return loc, eris.New("empty location_id")
	}
	if loc.Name == "" {
		loc.Name = loc.LocationID
	}

	lat, err := optionalFloat(field(idx, row, ColLatitude))
	if err != nil {
		return loc, eris.Wrap(err, "latitude")
	}
	lon, err := optionalFloat(field(idx, row, ColLongitude))
	if err != nil {
		return loc, eris.Wrap(err, "longitude")
	}
	if (lat == nil) != (lon == nil) {
		return loc, eris.New("latitude and longitude must be set together")
	}
	if lat != nil && !geo.ValidPoint(model.Point{Lat: *lat, Lon: *lon}) {
		return loc, eris.Errorf("coordinates %v,%v out of range", *lat, *lon)
	}
	loc.Latitude, loc.Longitude = lat, lon

	if s := field(idx, row, ColPopulation); s != "" {
		pop, err := strconv.Atoi(s)
		if err != nil || pop < 0 {
			return loc, eris.Errorf("invalid population %q", s)
		}
		loc.Population = &pop
	}
	return loc, nil
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return &v, nil
}

// MergeLocations overlays reference data onto locations derived from an
// export. Overlay fields win when set; crime totals always come from the
// derived side. Overlay-only locations are kept. The result is sorted by id.
func MergeLocations(derived, overlay []model.LocationStats) []model.LocationStats {
	byID := make(map[string]model.LocationStats, len(derived)+len(overlay))
	for _, l := range derived {
		byID[l.LocationID] = l
	}
	for _, o := range overlay {
		base, ok := byID[o.LocationID]
		if !ok {
			byID[o.LocationID] = o
			continue
		}
		if o.Name != "" {
			base.Name = o.Name
		}
		if o.City != "" {
			base.City = o.City
		}
		if o.HasCoordinates() {
			base.Latitude, base.Longitude = o.Latitude, o.Longitude
		}
		if o.Population != nil {
			base.Population = o.Population
		}
		byID[o.LocationID] = base
	}

	out := make([]model.LocationStats, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
