package matching

// Breakdown holds one subscore per weighted factor, each in [0, 1].
type Breakdown struct {
	ActivityLevel float64 `json:"activity_level"`
	ActivityType  float64 `json:"activity_type"`
	Schedule      float64 `json:"schedule"`
	FitnessLevel  float64 `json:"fitness_level"`
	Location      float64 `json:"location"`
}

// Match is one ranked candidate.
type Match struct {
	CandidateID  string    `json:"candidate_id"`
	OverallScore float64   `json:"overall_score"`
	Breakdown    Breakdown `json:"breakdown"`
	Explanation  []string  `json:"explanation"`
}

// Options narrow a FindMatches call. Use DefaultOptions as the starting point.
type Options struct {
	MaxResults     int
	MinScore       float64
	ExcludeUserIDs []string

	// PreferredActivityTypes is ignored when empty.
	PreferredActivityTypes []string

	// Refresh syncs the target's providers before matching.
	Refresh bool
}

func DefaultOptions() Options {
	return Options{MaxResults: 20, MinScore: 0.3}
}

type MatchesResponse struct {
	UserID  string  `json:"user_id"`
	Matches []Match `json:"matches"`
}
