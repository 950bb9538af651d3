package activities

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/storage"
)

const (
	recentWindow = 28 * 24 * time.Hour
	recentWeeks  = 4.0
	recentDays   = 28.0

	targetWeeklyMinutes  = 300.0
	targetWeeklySessions = 5.0
	targetDailySteps     = 10000.0

	maxPreferredTypes = 5
	minHourShare      = 0.10
)

// ComputeMetrics rolls records into one metrics row. It returns nil when there are no records.
func ComputeMetrics(userID string, records []storage.ActivityRecord, now time.Time) *storage.ActivityMetrics {
	if len(records) == 0 {
		return nil
	}

	var recentSeconds, recentSessions, recentSteps float64
	cutoff := now.Add(-recentWindow)
	typeCounts := make(map[string]int)
	hourCounts := make(map[int]int)

	for _, r := range records {
		typeCounts[r.ActivityType]++
		hourCounts[r.LocalStartHour()]++

		if r.StartTime.After(cutoff) && !r.StartTime.After(now) {
			recentSeconds += float64(r.DurationSeconds)
			recentSessions++
			if r.Steps != nil {
				recentSteps += float64(*r.Steps)
			}
		}
	}

	weeklyMinutes := recentSeconds / 60 / recentWeeks
	weeklySessions := recentSessions / recentWeeks
	dailySteps := recentSteps / recentDays

	score := 50*math.Min(weeklyMinutes/targetWeeklyMinutes, 1) +
		30*math.Min(weeklySessions/targetWeeklySessions, 1) +
		20*math.Min(dailySteps/targetDailySteps, 1)
	score = round2(score)

	return &storage.ActivityMetrics{
		UserID:                 userID,
		ActivityLevelScore:     score,
		PreferredActivityTypes: topTypes(typeCounts, maxPreferredTypes),
		PreferredWorkoutTimes:  frequentHours(hourCounts, len(records)),
		FitnessLevel:           FitnessFromScore(score),
		LastCalculatedAt:       now,
	}
}

// FitnessFromScore buckets an activity level score into a tier.
func FitnessFromScore(score float64) storage.FitnessLevel {
	switch {
	case score < 25:
		return storage.FitnessBeginner
	case score < 50:
		return storage.FitnessIntermediate
	case score < 75:
		return storage.FitnessAdvanced
	default:
		return storage.FitnessElite
	}
}

func topTypes(counts map[string]int, limit int) []string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	if len(types) > limit {
		types = types[:limit]
	}
	return types
}

func frequentHours(counts map[int]int, total int) []int {
	hours := make([]int, 0, len(counts))
	for h, n := range counts {
		if float64(n) >= minHourShare*float64(total) {
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)
	return hours
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregator recomputes a user's metrics from their full record set.
// Recompute is idempotent; calls for the same user are serialized.
type Aggregator struct {
	activities  storage.ActivitiesStorage
	metrics     storage.MetricsStorage
	connections storage.ConnectionsStorage
	logger      *zap.Logger
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewAggregator(activities storage.ActivitiesStorage, metrics storage.MetricsStorage, connections storage.ConnectionsStorage, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		activities:  activities,
		metrics:     metrics,
		connections: connections,
		logger:      logging.OrNop(logger),
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetClock replaces time.Now; for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Aggregator) userLock(userID string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	mu, ok := a.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[userID] = mu
	}
	return mu
}

// Recompute rebuilds the user's metrics, ignoring records of disconnected providers.
// It returns nil and removes the row when nothing is left.
func (a *Aggregator) Recompute(ctx context.Context, userID string) (*storage.ActivityMetrics, error) {
	mu := a.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	conns, err := a.connections.ListConnections(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	disconnected := make(map[string]bool)
	for _, c := range conns {
		if !c.Active() {
			disconnected[c.Provider] = true
		}
	}

	all, err := a.activities.ListActivityRecords(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("list activity records: %w", err)
	}
	records := all[:0:0]
	for _, r := range all {
		if !disconnected[r.Provider] {
			records = append(records, r)
		}
	}

	m := ComputeMetrics(userID, records, a.now())
	if m == nil {
		if err := a.metrics.DeleteActivityMetrics(ctx, userID); err != nil {
			return nil, fmt.Errorf("delete metrics: %w", err)
		}
		a.logger.Debug("metrics_cleared", zap.String("user_id", userID))
		return nil, nil
	}

	if err := a.metrics.UpsertActivityMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert metrics: %w", err)
	}
	a.logger.Debug("metrics_recomputed",
		zap.String("user_id", userID),
		zap.Int("records", len(records)),
		zap.Float64("score", m.ActivityLevelScore),
		zap.String("fitness_level", string(m.FitnessLevel)),
	)
	return m, nil
}
