package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fdg312/trailmate/internal/storage"
)

// ErrNoMetrics means the target user has no activity metrics to match on.
var ErrNoMetrics = errors.New("no activity metrics for user")

// Factor weights in percent. They always add up to 100.
const (
	weightActivityLevel = 35
	weightActivityType  = 25
	weightSchedule      = 20
	weightFitnessLevel  = 15
	weightLocation      = 5
)

const (
	emptyTypeScore     = 0.5
	emptyScheduleScore = 0.6
	coreTypeBonus      = 0.2
)

var coreOutdoorTypes = map[string]bool{
	"running":  true,
	"cycling":  true,
	"hiking":   true,
	"walking":  true,
	"climbing": true,
}

// Time-of-day blocks for schedule overlap.
const (
	BlockEarlyMorning = "early-morning"
	BlockLateMorning  = "late-morning"
	BlockAfternoon    = "afternoon"
	BlockEvening      = "evening"
	BlockNight        = "night"
)

// TimeBlock maps a local hour (0-23) to its block.
func TimeBlock(hour int) string {
	switch {
	case hour >= 5 && hour < 10:
		return BlockEarlyMorning
	case hour >= 10 && hour < 14:
		return BlockLateMorning
	case hour >= 14 && hour < 18:
		return BlockAfternoon
	case hour >= 18 && hour < 22:
		return BlockEvening
	default:
		return BlockNight
	}
}

var blockOrder = []string{BlockEarlyMorning, BlockLateMorning, BlockAfternoon, BlockEvening, BlockNight}

// LocationScorer scores geographic proximity in [0, 1].
type LocationScorer interface {
	LocationScore(target, candidate storage.ActivityMetrics) float64
}

// FixedLocation scores every pair the same.
type FixedLocation float64

func (f FixedLocation) LocationScore(target, candidate storage.ActivityMetrics) float64 {
	return float64(f)
}

// Matcher ranks candidates by weighted similarity. It holds no state between calls.
type Matcher struct {
	location LocationScorer
}

func NewMatcher(location LocationScorer) *Matcher {
	if location == nil {
		location = FixedLocation(1.0)
	}
	return &Matcher{location: location}
}

// FindMatches scores every candidate in pool against target and returns the ranked top results.
// Equal scores are ordered by candidate id.
func (m *Matcher) FindMatches(target *storage.ActivityMetrics, pool []storage.ActivityMetrics, opts Options) ([]Match, error) {
	if target == nil {
		return nil, ErrNoMetrics
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultOptions().MaxResults
	}

	excluded := make(map[string]bool, len(opts.ExcludeUserIDs)+1)
	excluded[target.UserID] = true
	for _, id := range opts.ExcludeUserIDs {
		excluded[id] = true
	}
	wanted := normalizeTypes(opts.PreferredActivityTypes)

	matches := make([]Match, 0, len(pool))
	for _, candidate := range pool {
		if candidate.UserID == "" || excluded[candidate.UserID] {
			continue
		}

		match := m.Score(*target, candidate)
		if match.OverallScore < opts.MinScore {
			continue
		}
		if len(wanted) > 0 && !overlaps(wanted, candidate.PreferredActivityTypes) && match.Breakdown.ActivityType <= 0.5 {
			continue
		}
		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OverallScore != matches[j].OverallScore {
			return matches[i].OverallScore > matches[j].OverallScore
		}
		return matches[i].CandidateID < matches[j].CandidateID
	})

	if len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}
	return matches, nil
}

// Score computes the compatibility of one pair.
func (m *Matcher) Score(target, candidate storage.ActivityMetrics) Match {
	b := Breakdown{
		ActivityLevel: activityLevelScore(target.ActivityLevelScore, candidate.ActivityLevelScore),
		ActivityType:  activityTypeScore(target.PreferredActivityTypes, candidate.PreferredActivityTypes),
		Schedule:      scheduleScore(target.PreferredWorkoutTimes, candidate.PreferredWorkoutTimes),
		FitnessLevel:  fitnessLevelScore(target.FitnessLevel, candidate.FitnessLevel),
		Location:      clamp(m.location.LocationScore(target, candidate)),
	}

	overall := (b.ActivityLevel*weightActivityLevel +
		b.ActivityType*weightActivityType +
		b.Schedule*weightSchedule +
		b.FitnessLevel*weightFitnessLevel +
		b.Location*weightLocation) / 100

	return Match{
		CandidateID:  candidate.UserID,
		OverallScore: round2(clamp(overall)),
		Breakdown: Breakdown{
			ActivityLevel: round2(b.ActivityLevel),
			ActivityType:  round2(b.ActivityType),
			Schedule:      round2(b.Schedule),
			FitnessLevel:  round2(b.FitnessLevel),
			Location:      round2(b.Location),
		},
		Explanation: explain(target, candidate, b),
	}
}

func activityLevelScore(a, b float64) float64 {
	diff := math.Abs(clampRange(a, 0, 100) - clampRange(b, 0, 100))
	return math.Sqrt(1 - diff/100)
}

func activityTypeScore(a, b []string) float64 {
	setA, setB := toSet(normalizeTypes(a)), toSet(normalizeTypes(b))
	if len(setA) == 0 || len(setB) == 0 {
		return emptyTypeScore
	}
	score := jaccard(setA, setB)
	for t := range setA {
		if setB[t] && coreOutdoorTypes[t] {
			score += coreTypeBonus
			break
		}
	}
	return math.Min(score, 1)
}

func scheduleScore(a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return emptyScheduleScore
	}
	return jaccard(blocks(a), blocks(b))
}

func fitnessLevelScore(a, b storage.FitnessLevel) float64 {
	return 1 - float64(rankDistance(a, b))/3
}

func rankDistance(a, b storage.FitnessLevel) int {
	d := a.Rank() - b.Rank()
	if d < 0 {
		return -d
	}
	return d
}

func jaccard(a, b map[string]bool) float64 {
	union := len(a)
	inter := 0
	for k := range b {
		if a[k] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func blocks(hours []int) map[string]bool {
	out := make(map[string]bool, len(hours))
	for _, h := range hours {
		out[TimeBlock(h)] = true
	}
	return out
}

func explain(target, candidate storage.ActivityMetrics, b Breakdown) []string {
	var out []string

	switch {
	case b.ActivityLevel >= 0.9:
		out = append(out, "Very similar activity levels")
	case b.ActivityLevel >= 0.7:
		out = append(out, "Comparable activity levels")
	}

	if shared := intersect(normalizeTypes(target.PreferredActivityTypes), normalizeTypes(candidate.PreferredActivityTypes)); len(shared) > 0 {
		out = append(out, "Shared interests: "+strings.Join(shared, ", "))
	}

	tb, cb := blocks(target.PreferredWorkoutTimes), blocks(candidate.PreferredWorkoutTimes)
	var common []string
	for _, blk := range blockOrder {
		if tb[blk] && cb[blk] {
			common = append(common, blk)
		}
	}
	if len(common) > 0 {
		out = append(out, "Shared schedule: "+strings.Join(common, ", "))
	}

	switch rankDistance(target.FitnessLevel, candidate.FitnessLevel) {
	case 0:
		out = append(out, fmt.Sprintf("Very similar fitness level (%s)", fitnessName(target.FitnessLevel)))
	case 1:
		out = append(out, "Close fitness levels")
	}

	if out == nil {
		out = []string{}
	}
	return out
}

func fitnessName(f storage.FitnessLevel) string {
	if !f.Valid() {
		return string(storage.FitnessIntermediate)
	}
	return string(f)
}

func normalizeTypes(types []string) []string {
	out := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// intersect keeps a's order.
func intersect(a, b []string) []string {
	set := toSet(b)
	var out []string
	for _, it := range a {
		if set[it] {
			out = append(out, it)
		}
	}
	return out
}

func overlaps(wanted, have []string) bool {
	return len(intersect(wanted, normalizeTypes(have))) > 0
}

func clamp(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
