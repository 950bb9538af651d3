package strava

import "time"

// Activity is the subset of Strava's SummaryActivity the normalizer reads.
type Activity struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	SportType        string    `json:"sport_type"`
	StartDate        time.Time `json:"start_date"`
	UTCOffset        float64   `json:"utc_offset"`   // seconds
	Distance         float64   `json:"distance"`     // meters
	MovingTime       int       `json:"moving_time"`  // seconds
	ElapsedTime      int       `json:"elapsed_time"` // seconds
	Kilojoules       *float64  `json:"kilojoules"`
	Calories         *float64  `json:"calories"`
	HasHeartrate     bool      `json:"has_heartrate"`
	AverageHeartrate float64   `json:"average_heartrate"` // bpm
	MaxHeartrate     float64   `json:"max_heartrate"`     // bpm
}
