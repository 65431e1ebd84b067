package model

// Forecast is a point forecast with interval for one location-month.
// Unique per (LocationID, Year, Month).
type Forecast struct {
	LocationID         string  `json:"location_id"`
	Year               int     `json:"year"`
	Month              int     `json:"month"`
	PredictedRate      float64 `json:"predicted_rate"`
	CILower            float64 `json:"ci_lower"`
	CIUpper            float64 `json:"ci_upper"`
	Explanation        string  `json:"explanation"`
	ModelVersion       string  `json:"model_version"`
	ZoneClassification Zone    `json:"zone_classification,omitempty"`
}

// Period returns the forecast's calendar month.
func (f Forecast) Period() YearMonth {
	return YearMonth{Year: f.Year, Month: f.Month}
}

// Bracketed reports whether ci_lower <= predicted_rate <= ci_upper and
// ci_lower >= 0.
func (f Forecast) Bracketed() bool {
	return f.CILower >= 0 && f.CILower <= f.PredictedRate && f.PredictedRate <= f.CIUpper
}
