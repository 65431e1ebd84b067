// Package ranking ranks locations near a point by a safety score personalized
// to the requester's age and gender.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/geo"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/weight"
	"github.com/sells-group/crimesafe/internal/zone"
)

// Explanations attached to each result.
const (
	ExplainNoRecords    = "No recorded crimes in the lookback window"
	ExplainDemographics = "Weighted by victim demographics"
	ExplainUnweighted   = "Mostly unweighted records (victim demographics unknown)"
)

var validate = validator.New()

// LocationLister returns every known location.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]model.LocationStats, error)
}

// RecordReader returns crime records for ranking. GetCrimeRecordsNear returns
// the records of year whose location lies within radiusKM of center;
// GetLatestCrimeRecords returns a location's records in the trailing months
// calendar months ending at its latest recorded month.
type RecordReader interface {
	GetCrimeRecordsNear(ctx context.Context, center model.Point, radiusKM float64, year int) ([]model.CrimeRecord, error)
	GetLatestCrimeRecords(ctx context.Context, locationID string, months int) ([]model.CrimeRecord, error)
}

// Request is one ranking query.
type Request struct {
	Requester model.Requester `json:"requester" validate:"-"`
	Center    model.Point     `json:"center"`
	RadiusKM  float64         `json:"radius_km" validate:"gt=0"`
	Year      int             `json:"year" validate:"gte=1"`
	TopN      int             `json:"top_n" validate:"gt=0"`
}

// UserProfile echoes the request back to the caller.
type UserProfile struct {
	Name           string       `json:"name"`
	Age            int          `json:"age"`
	Gender         model.Gender `json:"gender"`
	Year           int          `json:"year"`
	SearchLocation model.Point  `json:"search_location"`
	RadiusKM       float64      `json:"radius_km"`
}

// Response is the ranked list plus the number of candidates considered.
type Response struct {
	UserProfile            UserProfile                 `json:"user_profile"`
	Recommendations        []model.SafetyRankingResult `json:"recommendations"`
	TotalLocationsAnalyzed int                         `json:"total_locations_analyzed"`
}

// Engine computes safety rankings. It has no persisted side effects and is
// safe for concurrent use.
type Engine struct {
	locations LocationLister
	records   RecordReader
	weigher   weight.Strategy
	zones     zone.Policy
	cfg       config.RankingConfig
}

// New creates an Engine. Unset tunables fall back to defaults.
func New(locations LocationLister, records RecordReader, weigher weight.Strategy, zones zone.Policy, cfg config.RankingConfig) *Engine {
	if cfg.ScoreScale <= 0 {
		cfg.ScoreScale = 1
	}
	if cfg.FallbackMonths <= 0 {
		cfg.FallbackMonths = 6
	}
	if cfg.ConfidenceRecords <= 0 {
		cfg.ConfidenceRecords = 30
	}
	if cfg.YearWindowMonths <= 0 {
		cfg.YearWindowMonths = 12
	}
	return &Engine{
		locations: locations,
		records:   records,
		weigher:   weigher,
		zones:     zones,
		cfg:       cfg,
	}
}

type candidate struct {
	loc      model.LocationStats
	point    model.Point
	distance float64
}

// Rank returns up to TopN locations within RadiusKM of Center, safest first.
// No candidates is an empty result, not an error.
func (e *Engine) Rank(ctx context.Context, req Request) (*Response, error) {
	if err := ValidateRequester(req.Requester); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "ranking: %v", err)
	}
	if !geo.ValidPoint(req.Center) {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "ranking: invalid center %.6f,%.6f", req.Center.Lat, req.Center.Lon)
	}

	resp := &Response{
		UserProfile: UserProfile{
			Name:           req.Requester.Name,
			Age:            req.Requester.Age,
			Gender:         req.Requester.Gender,
			Year:           req.Year,
			SearchLocation: req.Center,
			RadiusKM:       req.RadiusKM,
		},
		Recommendations: []model.SafetyRankingResult{},
	}

	locs, err := e.locations.ListLocations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list locations")
	}
	candidates := selectCandidates(locs, req.Center, req.RadiusKM)
	resp.TotalLocationsAnalyzed = len(candidates)
	if len(candidates) == 0 {
		zap.L().Debug("ranking: no locations in radius",
			zap.Float64("lat", req.Center.Lat),
			zap.Float64("lon", req.Center.Lon),
			zap.Float64("radius_km", req.RadiusKM),
		)
		return resp, nil
	}

	near, err := e.records.GetCrimeRecordsNear(ctx, req.Center, req.RadiusKM, req.Year)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: get crime records")
	}
	byLocation := make(map[string][]model.CrimeRecord)
	for _, r := range near {
		if r.Year == req.Year {
			byLocation[r.LocationID] = append(byLocation[r.LocationID], r)
		}
	}

	results := make([]model.SafetyRankingResult, 0, len(candidates))
	for _, c := range candidates {
		recs := byLocation[c.loc.LocationID]
		window := e.cfg.YearWindowMonths
		fallback := false
		if len(recs) == 0 {
			recs, err = e.records.GetLatestCrimeRecords(ctx, c.loc.LocationID, e.cfg.FallbackMonths)
			if err != nil {
				return nil, eris.Wrapf(err, "ranking: get latest records %s", c.loc.LocationID)
			}
			if len(recs) > 0 {
				fallback = true
				window = e.cfg.FallbackMonths
				zap.L().Debug("ranking: no records for year, using trailing window",
					zap.String("location_id", c.loc.LocationID),
					zap.Int("year", req.Year),
					zap.Int("months", window),
					zap.Int("records", len(recs)),
				)
			}
		}

		res, err := e.score(c, recs, window, req.Requester)
		if err != nil {
			return nil, err
		}
		if fallback {
			res.Explanation += fmt.Sprintf(" (no %d records; trailing %d months used)", req.Year, window)
		}
		results = append(results, res)
	}

	Sort(results)
	if len(results) > req.TopN {
		results = results[:req.TopN]
	}
	resp.Recommendations = results

	zap.L().Info("ranking: ranked locations",
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(results)),
		zap.Int("year", req.Year),
		zap.Float64("radius_km", req.RadiusKM),
	)
	return resp, nil
}

// score computes one location's result from its records over window months.
func (e *Engine) score(c candidate, recs []model.CrimeRecord, window int, requester model.Requester) (model.SafetyRankingResult, error) {
	var raw float64
	known := 0
	for _, r := range recs {
		w := e.weigher.Weight(r.VictimAge, r.VictimGender, requester)
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return model.SafetyRankingResult{}, eris.Wrapf(model.ErrInternalComputation, "ranking: weight %v for record %d", w, r.ID)
		}
		raw += w
		if hasDemographics(r) {
			known++
		}
	}

	n := len(recs)
	normalized := raw / math.Max(1, float64(n))
	avg := round2(float64(n) / float64(window))

	res := model.SafetyRankingResult{
		LocationID:         c.loc.LocationID,
		LocationName:       c.loc.Name,
		Latitude:           c.point.Lat,
		Longitude:          c.point.Lon,
		DistanceKM:         round2(c.distance),
		SafetyScore:        round2(100 * (1 - math.Exp(-normalized/e.cfg.ScoreScale))),
		AvgCrimeCount:      avg,
		Confidence:         round2(math.Min(1, float64(n)/float64(e.cfg.ConfidenceRecords))),
		ZoneClassification: e.zones.Classify(int(math.Round(avg))),
	}
	switch {
	case n == 0:
		res.Explanation = ExplainNoRecords
	case known*2 >= n:
		res.Explanation = ExplainDemographics
	default:
		res.Explanation = ExplainUnweighted
	}
	if math.IsNaN(res.SafetyScore) || res.SafetyScore < 0 || res.SafetyScore > 100 {
		return model.SafetyRankingResult{}, eris.Wrapf(model.ErrInternalComputation, "ranking: score %v for %s", res.SafetyScore, c.loc.LocationID)
	}
	return res, nil
}

// Sort orders results by safety_score, then distance_km, then location_id.
func Sort(results []model.SafetyRankingResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.SafetyScore != b.SafetyScore {
			return a.SafetyScore < b.SafetyScore
		}
		if a.DistanceKM != b.DistanceKM {
			return a.DistanceKM < b.DistanceKM
		}
		return a.LocationID < b.LocationID
	})
}

// ValidateRequester rejects a profile with an age outside 0..120 or a gender
// other than M or F.
func ValidateRequester(r model.Requester) error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrapf(model.ErrInvalidProfile, "ranking: %v", err)
	}
	return nil
}

func selectCandidates(locs []model.LocationStats, center model.Point, radiusKM float64) []candidate {
	box := geo.BoundingBox(center, radiusKM)
	var out []candidate
	for _, loc := range locs {
		if !loc.HasCoordinates() {
			continue
		}
		p := model.Point{Lat: *loc.Latitude, Lon: *loc.Longitude}
		if !geo.ValidPoint(p) || !geo.InBounds(box, p) {
			continue
		}
		d := geo.HaversineKM(center, p)
		if d <= radiusKM {
			out = append(out, candidate{loc: loc, point: p, distance: d})
		}
	}
	return out
}

func hasDemographics(r model.CrimeRecord) bool {
	if r.VictimAge != nil && *r.VictimAge >= 0 {
		return true
	}
	return r.VictimGender != nil && (*r.VictimGender == model.GenderMale || *r.VictimGender == model.GenderFemale)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
