package model

// Requester is the profile a safety ranking is personalized for.
type Requester struct {
	Name   string `json:"name,omitempty"`
	Age    int    `json:"age" validate:"gte=0,lte=120"`
	Gender Gender `json:"gender" validate:"oneof=M F"`
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SafetyRankingResult is one ranked location. Ephemeral, never persisted.
type SafetyRankingResult struct {
	LocationID         string  `json:"location_id"`
	LocationName       string  `json:"location_name"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	DistanceKM         float64 `json:"distance_km"`
	SafetyScore        float64 `json:"safety_score"`
	AvgCrimeCount      float64 `json:"avg_crime_count"`
	Confidence         float64 `json:"confidence"`
	ZoneClassification Zone    `json:"zone_classification"`
	Explanation        string  `json:"explanation"`
}
