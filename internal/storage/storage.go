package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fdg312/trailmate/internal/quota"
)

// ErrNotFound is returned by getters when the row does not exist.
var ErrNotFound = errors.New("not found")

// FitnessLevel is the coarse fitness tier derived from the activity level score.
type FitnessLevel string

const (
	FitnessBeginner     FitnessLevel = "beginner"
	FitnessIntermediate FitnessLevel = "intermediate"
	FitnessAdvanced     FitnessLevel = "advanced"
	FitnessElite        FitnessLevel = "elite"
)

var fitnessRank = map[FitnessLevel]int{
	FitnessBeginner:     0,
	FitnessIntermediate: 1,
	FitnessAdvanced:     2,
	FitnessElite:        3,
}

// Rank returns the ordinal of the tier. Unknown tiers rank as intermediate.
func (f FitnessLevel) Rank() int {
	if r, ok := fitnessRank[f]; ok {
		return r
	}
	return fitnessRank[FitnessIntermediate]
}

// Valid reports whether f is one of the four known tiers.
func (f FitnessLevel) Valid() bool {
	_, ok := fitnessRank[f]
	return ok
}

// ActivityRecord is one workout in canonical form, regardless of the provider it came from.
type ActivityRecord struct {
	ID                 uuid.UUID
	UserID             string
	Provider           string
	ProviderActivityID string
	ActivityType       string // lowercase canonical tag
	StartTime          time.Time
	UTCOffsetSeconds   int // offset of the athlete's local time, used for hour buckets
	DurationSeconds    int
	DistanceMeters     *float64
	Calories           *float64
	Steps              *int
	HeartRateAvg       *float64
	HeartRateMax       *float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LocalStartHour is the hour of day (0-23) the activity started in the athlete's local time.
func (r ActivityRecord) LocalStartHour() int {
	return r.StartTime.UTC().Add(time.Duration(r.UTCOffsetSeconds) * time.Second).Hour()
}

// ActivityMetrics is the per-user summary the matcher reads. Recomputed, never appended.
type ActivityMetrics struct {
	UserID                 string
	ActivityLevelScore     float64 // 0..100
	PreferredActivityTypes []string
	PreferredWorkoutTimes  []int // local hours 0..23
	FitnessLevel           FitnessLevel
	LastCalculatedAt       time.Time
}

// ProviderConnection links a user to a fitness provider account.
// Disconnecting is a soft delete: DisconnectedAt is set and the records stay.
type ProviderConnection struct {
	ID             uuid.UUID
	UserID         string
	Provider       string
	AccessToken    string
	RefreshToken   string
	TokenExpiry    *time.Time
	LastSyncedAt   *time.Time
	LastError      string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
}

// Active reports whether the connection has not been disconnected.
func (c ProviderConnection) Active() bool {
	return c.DisconnectedAt == nil
}

// CredentialConfig is one backend application registered with the provider.
type CredentialConfig struct {
	ID           string
	ClientID     string
	ClientSecret string
	DailyLimit   int
	WindowLimit  int
	IsActive     bool
	CreatedAt    time.Time
}

// CredentialAssignment maps a user to the credential their calls are billed to.
type CredentialAssignment struct {
	UserID       string
	CredentialID string
	AssignedAt   time.Time
}

// ActivitiesStorage persists canonical activity records.
type ActivitiesStorage interface {
	// UpsertActivityRecords inserts or updates by (user_id, provider, provider_activity_id).
	UpsertActivityRecords(ctx context.Context, records []ActivityRecord) (int, error)

	// ListActivityRecords returns the user's records, restricted to providers when it is non-empty.
	ListActivityRecords(ctx context.Context, userID string, providers []string) ([]ActivityRecord, error)
}

// MetricsStorage persists one ActivityMetrics row per user.
type MetricsStorage interface {
	GetActivityMetrics(ctx context.Context, userID string) (*ActivityMetrics, error)

	// ListActivityMetrics returns rows for userIDs, or every row when userIDs is empty.
	// Users without a row are left out.
	ListActivityMetrics(ctx context.Context, userIDs []string) ([]ActivityMetrics, error)

	UpsertActivityMetrics(ctx context.Context, m *ActivityMetrics) error
	DeleteActivityMetrics(ctx context.Context, userID string) error
}

// ConnectionsStorage persists provider connections.
type ConnectionsStorage interface {
	UpsertConnection(ctx context.Context, conn *ProviderConnection) error
	GetConnection(ctx context.Context, userID, provider string) (*ProviderConnection, error)
	ListConnections(ctx context.Context, userID string, includeDisconnected bool) ([]ProviderConnection, error)
	UpdateConnectionTokens(ctx context.Context, userID, provider, accessToken, refreshToken string, expiry *time.Time) error

	// MarkConnectionSynced records a successful sync and clears the last error.
	MarkConnectionSynced(ctx context.Context, userID, provider string, at time.Time) error
	SetConnectionError(ctx context.Context, userID, provider, message string) error
	DisconnectConnection(ctx context.Context, userID, provider string, at time.Time) error
}

// CredentialsStorage reads credential configs and user assignments.
type CredentialsStorage interface {
	GetCredentialConfig(ctx context.Context, id string) (*CredentialConfig, error)
	ListCredentialConfigs(ctx context.Context) ([]CredentialConfig, error)
	UpsertCredentialConfig(ctx context.Context, cfg *CredentialConfig) error
	GetCredentialAssignment(ctx context.Context, userID string) (*CredentialAssignment, error)

	// AssignCredential returns ErrNotFound when the credential does not exist.
	AssignCredential(ctx context.Context, userID, credentialID string) error
}

// QuotaStorage owns quota state. Each method is one atomic read-modify-write per credential.
type QuotaStorage interface {
	ReserveQuota(ctx context.Context, credentialID string, limits quota.Limits, now time.Time) (quota.Decision, quota.State, error)
	ThrottleQuota(ctx context.Context, credentialID string, limits quota.Limits, until, now time.Time) (quota.State, error)

	// GetQuotaState returns the stored state, or a zero state when none exists.
	GetQuotaState(ctx context.Context, credentialID string) (quota.State, error)
}

// Storage is everything the service needs from a backend.
type Storage interface {
	ActivitiesStorage
	MetricsStorage
	ConnectionsStorage
	CredentialsStorage
	QuotaStorage

	Close() error
}
