package ingest

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crimesafe/internal/geo"
	"github.com/sells-group/crimesafe/internal/model"
)

// Gazetteer maps an upper-cased city name to the point its crimes are
// reported against.
type Gazetteer map[string]model.Point

// DefaultGazetteer covers the cities present in the Karnataka crime export.
func DefaultGazetteer() Gazetteer {
	return Gazetteer{
		"MANGALORE": {Lat: 12.9141, Lon: 74.856},
		"BANGALORE": {Lat: 12.9716, Lon: 77.5946},
		"MYSORE":    {Lat: 12.2958, Lon: 76.6394},
		"UDUPI":     {Lat: 13.3409, Lon: 74.7421},
		"KARWAR":    {Lat: 14.8137, Lon: 74.129},
	}
}

// LoadGazetteer reads a YAML mapping of city name to {lat, lon} and layers
// it over the defaults.
func LoadGazetteer(path string) (Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read gazetteer %s", path)
	}
	var raw map[string]model.Point
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse gazetteer %s", path)
	}

	g := DefaultGazetteer()
	for city, p := range raw {
		if !geo.ValidPoint(p) {
			return nil, eris.Errorf("ingest: gazetteer %s: invalid coordinates for %q", path, city)
		}
		g[normalizeCity(city)] = p
	}
	return g, nil
}

// Lookup returns the coordinates for city, ignoring case and surrounding space.
func (g Gazetteer) Lookup(city string) (model.Point, bool) {
	p, ok := g[normalizeCity(city)]
	return p, ok
}

// LocationID derives a stable location key from the city and its rounded
// coordinates, e.g. "bangalore_12.97_77.59".
func LocationID(city string, p model.Point) string {
	slug := strings.Join(strings.Fields(strings.ToLower(city)), "_")
	return fmt.Sprintf("%s_%s_%s", slug, roundCoord(p.Lat), roundCoord(p.Lon))
}

func roundCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func normalizeCity(city string) string {
	return strings.ToUpper(strings.TrimSpace(city))
}
