package forecast

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/model"
)

// memStore is an in-memory LocationReader, HistoryReader and Cache.
type memStore struct {
	mu        sync.Mutex
	locations map[string]model.LocationStats
	history   map[string][]model.MonthlyAggregate
	forecasts map[string]map[model.YearMonth]model.Forecast
	upserts   int

	getErr    error
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{
		locations: make(map[string]model.LocationStats),
		history:   make(map[string][]model.MonthlyAggregate),
		forecasts: make(map[string]map[model.YearMonth]model.Forecast),
	}
}

func (m *memStore) addLocation(id, name string, counts ...int) {
	m.locations[id] = model.LocationStats{LocationID: id, Name: name}
	// counts are oldest first, ending at 2024-09.
	end := model.YearMonth{Year: 2024, Month: 9}
	for i, c := range counts {
		ym := end.Add(i - len(counts) + 1)
		m.history[id] = append(m.history[id], model.MonthlyAggregate{
			LocationID: id, Year: ym.Year, Month: ym.Month, CrimeCount: c,
		})
	}
}

func (m *memStore) GetLocation(_ context.Context, id string) (*model.LocationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrLocationNotFound, "location %s", id)
	}
	return &loc, nil
}

func (m *memStore) GetMonthlyHistory(_ context.Context, id string, limit int) ([]model.MonthlyAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	h := append([]model.MonthlyAggregate(nil), m.history[id]...)
	sort.Slice(h, func(i, j int) bool { return h[j].Period().Before(h[i].Period()) })
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (m *memStore) GetForecasts(_ context.Context, id string, yearFrom int) ([]model.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []model.Forecast
	for ym, f := range m.forecasts[id] {
		if ym.Year >= yearFrom {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period().Before(out[j].Period()) })
	return out, nil
}

func (m *memStore) UpsertForecast(_ context.Context, f model.Forecast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.forecasts[f.LocationID] == nil {
		m.forecasts[f.LocationID] = make(map[model.YearMonth]model.Forecast)
	}
	f.ZoneClassification = ""
	m.forecasts[f.LocationID][f.Period()] = f
	m.upserts++
	return nil
}

func (m *memStore) cachedCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forecasts[id])
}
