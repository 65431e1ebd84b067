package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/aggregate"
	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/ranking"
	"github.com/sells-group/crimesafe/internal/store"
)

// Prediction request types.
const (
	TypeLocationForecast      = "location_forecast"
	TypePersonalizedRecommend = "personalized_recommend"
)

// topCrimeTypes is the number of crime types listed in a location history.
const topCrimeTypes = 10

// Evaluation ledger page sizes.
const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

type predictRequest struct {
	Type string `json:"type"`

	// location_forecast
	LocationID    string `json:"location_id"`
	HorizonMonths int    `json:"horizon_months"`
	Refresh       bool   `json:"refresh"`

	// personalized_recommend
	Name     string   `json:"name"`
	Age      *int     `json:"age"`
	Gender   string   `json:"gender"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	RadiusKM float64  `json:"radius_km"`
	TopN     int      `json:"top_n"`
	Year     int      `json:"year"`
}

type forecastResponse struct {
	Success bool `json:"success"`
	*forecast.Result
}

type rankingResponse struct {
	Success bool `json:"success"`
	*ranking.Response
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidRequest, "invalid request body"))
		return
	}

	switch req.Type {
	case TypeLocationForecast:
		s.predictForecast(w, r, req)
	case TypePersonalizedRecommend:
		s.predictRanking(w, r, req)
	default:
		writeError(w, r, eris.Wrapf(model.ErrInvalidRequest,
			"invalid request type %q, must be %q or %q", req.Type, TypeLocationForecast, TypePersonalizedRecommend))
	}
}

func (s *Server) predictForecast(w http.ResponseWriter, r *http.Request, req predictRequest) {
	if strings.TrimSpace(req.LocationID) == "" {
		writeError(w, r, eris.Wrap(model.ErrInvalidRequest, "location_id is required"))
		return
	}

	res, err := guarded(r.Context(), s, func(ctx context.Context) (*forecast.Result, error) {
		return s.forecaster.Forecast(ctx, forecast.Request{
			LocationID:    req.LocationID,
			HorizonMonths: req.HorizonMonths,
			Refresh:       req.Refresh,
		})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{Success: true, Result: res})
}

func (s *Server) predictRanking(w http.ResponseWriter, r *http.Request, req predictRequest) {
	if req.Age == nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidProfile, "age is required"))
		return
	}
	gender, err := model.ParseGender(req.Gender)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, r, eris.Wrap(model.ErrInvalidRequest, "lat and lon are required"))
		return
	}

	rankReq := ranking.Request{
		Requester: model.Requester{Name: req.Name, Age: *req.Age, Gender: gender},
		Center:    model.Point{Lat: *req.Lat, Lon: *req.Lon},
		RadiusKM:  req.RadiusKM,
		Year:      req.Year,
		TopN:      req.TopN,
	}
	res, err := guarded(r.Context(), s, func(ctx context.Context) (*ranking.Response, error) {
		return s.ranker.Rank(ctx, rankReq)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingResponse{Success: true, Response: res})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y <= 0 {
			writeError(w, r, eris.Wrapf(model.ErrInvalidRequest, "invalid year %q", v))
			return
		}
		year = y
	}
	city := strings.TrimSpace(r.URL.Query().Get("city"))

	locs, err := guarded(r.Context(), s, s.store.ListLocations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filtered := make([]model.LocationStats, 0, len(locs))
	for _, l := range locs {
		if city == "" || strings.EqualFold(l.City, city) {
			filtered = append(filtered, l)
		}
	}
	locs = filtered

	if year == 0 {
		sort.SliceStable(locs, func(i, j int) bool { return locs[i].TotalCrimes > locs[j].TotalCrimes })
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "locations": locs})
		return
	}

	aggs, err := guarded(r.Context(), s, func(ctx context.Context) ([]model.MonthlyAggregate, error) {
		return s.store.ListMonthlyAggregates(ctx, store.AggregateFilter{Year: year})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"year":      year,
		"locations": aggregate.Overview(locs, aggs, year),
	})
}

type historyResponse struct {
	Success       bool                      `json:"success"`
	Location      *model.LocationStats      `json:"location"`
	MonthlyData   []model.MonthlyAggregate  `json:"monthly_data"`
	YearlySummary []aggregate.YearlySummary `json:"yearly_summary"`
	TopCrimeTypes []model.CrimeTypeCount    `json:"top_crime_types"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	loc, err := guarded(r.Context(), s, func(ctx context.Context) (*model.LocationStats, error) {
		return s.store.GetLocation(ctx, id)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	monthly, err := guarded(r.Context(), s, func(ctx context.Context) ([]model.MonthlyAggregate, error) {
		return s.store.ListMonthlyAggregates(ctx, store.AggregateFilter{LocationID: id})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	types, err := guarded(r.Context(), s, func(ctx context.Context) ([]model.CrimeTypeCount, error) {
		return s.store.TopCrimeTypes(ctx, id, topCrimeTypes)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Success:       true,
		Location:      loc,
		MonthlyData:   monthly,
		YearlySummary: aggregate.Summarize(monthly),
		TopCrimeTypes: types,
	})
}

type evaluationResponse struct {
	Success bool `json:"success"`
	*forecast.Evaluation
}

// handleEvaluate backtests the model on demand. Nothing is recorded; the
// evaluate command writes the ledger.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	testYear := s.testYear
	if v := r.URL.Query().Get("test_year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y <= 0 {
			writeError(w, r, eris.Wrapf(model.ErrInvalidRequest, "invalid test_year %q", v))
			return
		}
		testYear = y
	}

	aggs, err := guarded(r.Context(), s, func(ctx context.Context) ([]model.MonthlyAggregate, error) {
		return s.store.ListMonthlyAggregates(ctx, store.AggregateFilter{})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev, err := s.evaluator.Evaluate(aggs, testYear)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluationResponse{Success: true, Evaluation: ev})
}

func (s *Server) handleEvaluationRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			writeError(w, r, eris.Wrapf(model.ErrInvalidRequest, "invalid limit %q (1-%d)", v, maxRunsLimit))
			return
		}
		limit = n
	}

	runs, err := guarded(r.Context(), s, func(ctx context.Context) ([]model.EvaluationRun, error) {
		return s.store.ListEvaluationRuns(ctx, limit)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "runs": runs})
}
