// Package geo provides great-circle distance and bounding-box helpers for
// locating crime records around a point.
package geo

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/crimesafe/internal/model"
)

// EarthRadiusKM is the mean Earth radius used for haversine distances.
const EarthRadiusKM = 6371.0

// SRID is the spatial reference of every encoded geometry (WGS84).
const SRID = 4326

// HaversineKM returns the great-circle distance between a and b in kilometers.
func HaversineKM(a, b model.Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusKM
}

// ValidPoint reports whether p is a finite WGS84 coordinate.
func ValidPoint(p model.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// BoundingBox returns a lon/lat box that contains every point within
// radiusKM of center. The box is a prefilter only; callers confirm with
// HaversineKM. Near the poles or across the antimeridian the longitude span
// widens to the full range.
func BoundingBox(center model.Point, radiusKM float64) *geom.Bounds {
	angular := radiusKM / EarthRadiusKM
	dLat := angular * 180 / math.Pi

	minLat := math.Max(center.Lat-dLat, -90)
	maxLat := math.Min(center.Lat+dLat, 90)

	minLon, maxLon := -180.0, 180.0
	if minLat > -90 && maxLat < 90 {
		ratio := math.Sin(angular) / math.Cos(center.Lat*math.Pi/180)
		if ratio < 1 {
			dLon := math.Asin(ratio) * 180 / math.Pi
			if center.Lon-dLon >= -180 && center.Lon+dLon <= 180 {
				minLon, maxLon = center.Lon-dLon, center.Lon+dLon
			}
		}
	}

	return geom.NewBounds(geom.XY).Set(minLon, minLat, maxLon, maxLat)
}

// InBounds reports whether p falls inside b.
func InBounds(b *geom.Bounds, p model.Point) bool {
	return b.OverlapsPoint(geom.XY, geom.Coord{p.Lon, p.Lat})
}

// EncodePoint returns p as little-endian EWKB with SRID 4326, suitable as a
// PostGIS geometry parameter.
func EncodePoint(p model.Point) ([]byte, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}
