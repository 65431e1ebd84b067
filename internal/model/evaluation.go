package model

import "time"

// EvaluationRun is one recorded backtest of the forecasting model: trained on
// every month before TestYear, scored against TestYear's actual aggregates.
type EvaluationRun struct {
	RunID        string `json:"run_id"`
	ModelVersion string `json:"model_version"`
	// TrainYears lists the years before TestYear that supplied history,
	// comma separated ("2020,2021,2022,2023").
	TrainYears string    `json:"train_years"`
	TestYear   int       `json:"test_year"`
	RMSE       float64   `json:"rmse"`
	MAE        float64   `json:"mae"`
	Accuracy   float64   `json:"classification_accuracy"`
	Samples    int       `json:"samples"`
	Locations  int       `json:"locations"`
	CreatedAt  time.Time `json:"created_at"`
}
