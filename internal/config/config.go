package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ArchiveModeLocal = "local"
	ArchiveModeS3    = "s3"
	ArchiveModeAuto  = "auto"
)

const (
	QuotaStoreMemory   = "memory"
	QuotaStorePostgres = "postgres"
	QuotaStoreRedis    = "redis"
)

// DefaultCredentialID is the id of the shared credential built from PROVIDER_CLIENT_ID/SECRET.
const DefaultCredentialID = "default"

const defaultProviderBaseURL = "https://www.strava.com/api/v3"

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) MissingRequired() []string {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if strings.TrimSpace(c.Region) == "" {
		missing = append(missing, "S3_REGION")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	return missing
}

func (c S3Config) IsConfigured() bool {
	return len(c.MissingRequired()) == 0
}

func (c S3Config) Diagnostics() (level string, code string, msg string) {
	allEmpty := strings.TrimSpace(c.Endpoint) == "" &&
		strings.TrimSpace(c.Region) == "" &&
		strings.TrimSpace(c.Bucket) == "" &&
		strings.TrimSpace(c.AccessKeyID) == "" &&
		strings.TrimSpace(c.SecretAccessKey) == ""

	if allEmpty {
		return "INFO", "s3_not_configured", "not configured (all empty)"
	}

	missing := c.MissingRequired()
	if len(missing) > 0 {
		return "WARN", "s3_partial_config", fmt.Sprintf("partial config, missing=%v", missing)
	}

	return "INFO", "s3_ready", "ready"
}

// DiagnosticsSummary returns a summary for logging (no secrets)
func (c S3Config) DiagnosticsSummary() string {
	return fmt.Sprintf("endpoint=%s region=%s bucket=%s access_key_id=%s secret_access_key=%s",
		nonEmptyOrDash(c.Endpoint),
		nonEmptyOrDash(c.Region),
		nonEmptyOrDash(c.Bucket),
		setOrNot(c.AccessKeyID),
		setOrNot(c.SecretAccessKey),
	)
}

type ArchiveConfig struct {
	Mode string // local|s3|auto
	S3   S3Config
}

// ProviderConfig describes the shared default credential and the provider API endpoint.
type ProviderConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	DailyLimit     int
	WindowLimit    int
	WindowDuration time.Duration
}

type GatewayConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MinInterval time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type SyncConfig struct {
	MaxParallel int
	PageSize    int
	MaxPages    int
	// Overlap is subtracted from last_synced_at on incremental fetches.
	Overlap time.Duration
}

type MatchConfig struct {
	DefaultMaxResults int
	DefaultMinScore   float64
}

// Config holds the application configuration.
type Config struct {
	Env      string // local | staging | production
	Port     int
	LogLevel string

	// Database
	DatabaseURL       string // runtime connection (resolved: pooled > url > direct)
	DatabaseURLRaw    string // DATABASE_URL as provided
	DatabaseURLPooled string // DATABASE_URL_POOLED as provided
	DatabaseURLDirect string // for migrations / DDL (may be empty)

	RunMigrationsOnStartup bool

	// Inbound rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	QuotaStore string // memory | postgres | redis
	Redis      RedisConfig

	Provider ProviderConfig
	Gateway  GatewayConfig
	Sync     SyncConfig
	Match    MatchConfig
	Archive  ArchiveConfig

	// Warnings collected while loading; logged once the logger exists.
	Warnings []string
}

// Load reads configuration from environment variables.
func Load() *Config {
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	// APP_ENV (fallback to ENV, default: local)
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "local"
	}

	port := envInt("PORT", 8080)

	logLevel := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if logLevel == "" {
		logLevel = "debug"
		if env != "local" {
			logLevel = "info"
		}
	}

	// ---------- Database ----------
	// Priority: DATABASE_URL_POOLED > DATABASE_URL > DATABASE_URL_DIRECT
	dbPooled := strings.TrimSpace(os.Getenv("DATABASE_URL_POOLED"))
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	dbDirect := strings.TrimSpace(os.Getenv("DATABASE_URL_DIRECT"))

	runtimeDB := dbPooled
	if runtimeDB == "" {
		runtimeDB = dbURL
	}
	if runtimeDB == "" {
		runtimeDB = dbDirect
	}

	// ---------- Quota store ----------
	quotaStore := strings.ToLower(strings.TrimSpace(os.Getenv("QUOTA_STORE")))
	if quotaStore == "" {
		quotaStore = QuotaStoreMemory
		if runtimeDB != "" {
			quotaStore = QuotaStorePostgres
		}
	}
	switch quotaStore {
	case QuotaStoreMemory, QuotaStorePostgres, QuotaStoreRedis:
	default:
		warnf("unknown QUOTA_STORE=%q, fallback to %s", quotaStore, QuotaStoreMemory)
		quotaStore = QuotaStoreMemory
	}
	if quotaStore == QuotaStorePostgres && runtimeDB == "" {
		warnf("QUOTA_STORE=postgres without a database URL, fallback to %s", QuotaStoreMemory)
		quotaStore = QuotaStoreMemory
	}

	redisCfg := RedisConfig{
		URL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if quotaStore == QuotaStoreRedis && redisCfg.URL == "" {
		redisCfg.URL = "localhost:6379"
		warnf("QUOTA_STORE=redis without REDIS_URL, using %s", redisCfg.URL)
	}

	// ---------- Provider / default credential ----------
	providerBaseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL")), "/")
	if providerBaseURL == "" {
		providerBaseURL = defaultProviderBaseURL
	}

	dailyLimit := envInt("PROVIDER_DAILY_LIMIT", 1000)
	if dailyLimit <= 0 {
		warnf("PROVIDER_DAILY_LIMIT=%d is not positive, fallback to 1000", dailyLimit)
		dailyLimit = 1000
	}
	windowLimit := envInt("PROVIDER_WINDOW_LIMIT", 100)
	if windowLimit <= 0 {
		warnf("PROVIDER_WINDOW_LIMIT=%d is not positive, fallback to 100", windowLimit)
		windowLimit = 100
	}
	windowMinutes := envInt("PROVIDER_WINDOW_MINUTES", 15)
	if windowMinutes <= 0 {
		windowMinutes = 15
	}

	provider := ProviderConfig{
		BaseURL:        providerBaseURL,
		ClientID:       strings.TrimSpace(os.Getenv("PROVIDER_CLIENT_ID")),
		ClientSecret:   strings.TrimSpace(os.Getenv("PROVIDER_CLIENT_SECRET")),
		DailyLimit:     dailyLimit,
		WindowLimit:    windowLimit,
		WindowDuration: time.Duration(windowMinutes) * time.Minute,
	}
	if provider.ClientID == "" || provider.ClientSecret == "" {
		warnf("PROVIDER_CLIENT_ID/PROVIDER_CLIENT_SECRET not set, the default credential cannot refresh tokens")
	}

	// ---------- Gateway ----------
	maxAttempts := envInt("GATEWAY_MAX_ATTEMPTS", 3)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelayMS := envInt("GATEWAY_BASE_DELAY_MS", 1000)
	if baseDelayMS < 0 {
		baseDelayMS = 1000
	}
	minIntervalMS := envInt("GATEWAY_MIN_INTERVAL_MS", 150)
	if minIntervalMS < 0 {
		minIntervalMS = 0
	}

	// ---------- Sync ----------
	syncCfg := SyncConfig{
		MaxParallel: envInt("SYNC_MAX_PARALLEL", 4),
		PageSize:    envInt("SYNC_PAGE_SIZE", 100),
		MaxPages:    envInt("SYNC_MAX_PAGES", 10),
	}
	if syncCfg.MaxParallel <= 0 {
		syncCfg.MaxParallel = 4
	}
	if syncCfg.PageSize <= 0 || syncCfg.PageSize > 200 {
		warnf("SYNC_PAGE_SIZE=%d out of range, fallback to 100", syncCfg.PageSize)
		syncCfg.PageSize = 100
	}
	if syncCfg.MaxPages <= 0 {
		syncCfg.MaxPages = 10
	}
	overlapHours := envInt("SYNC_OVERLAP_HOURS", 168)
	if overlapHours < 0 {
		warnf("SYNC_OVERLAP_HOURS=%d is negative, fallback to 168", overlapHours)
		overlapHours = 168
	}
	syncCfg.Overlap = time.Duration(overlapHours) * time.Hour

	// ---------- Matching ----------
	matchCfg := MatchConfig{
		DefaultMaxResults: envInt("MATCH_DEFAULT_MAX_RESULTS", 20),
		DefaultMinScore:   envFloat("MATCH_DEFAULT_MIN_SCORE", 0.3),
	}
	if matchCfg.DefaultMaxResults <= 0 {
		matchCfg.DefaultMaxResults = 20
	}
	if matchCfg.DefaultMinScore < 0 || matchCfg.DefaultMinScore > 1 {
		warnf("MATCH_DEFAULT_MIN_SCORE=%v out of [0,1], fallback to 0.3", matchCfg.DefaultMinScore)
		matchCfg.DefaultMinScore = 0.3
	}

	// ---------- Archive / S3 ----------
	archiveMode := strings.ToLower(strings.TrimSpace(os.Getenv("ARCHIVE_MODE")))
	switch archiveMode {
	case "":
		archiveMode = ArchiveModeLocal
	case ArchiveModeLocal, ArchiveModeS3, ArchiveModeAuto:
	default:
		warnf("unknown ARCHIVE_MODE=%q, fallback to %s", archiveMode, ArchiveModeLocal)
		archiveMode = ArchiveModeLocal
	}

	archive := ArchiveConfig{
		Mode: archiveMode,
		S3: S3Config{
			Endpoint:        strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			Region:          strings.TrimSpace(os.Getenv("S3_REGION")),
			Bucket:          strings.TrimSpace(os.Getenv("S3_BUCKET")),
			AccessKeyID:     strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
			SecretAccessKey: strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
		},
	}

	return &Config{
		Env:               env,
		Port:              port,
		LogLevel:          logLevel,
		DatabaseURL:       runtimeDB,
		DatabaseURLRaw:    dbURL,
		DatabaseURLPooled: dbPooled,
		DatabaseURLDirect: dbDirect,

		RunMigrationsOnStartup: parseBoolEnv("RUN_MIGRATIONS_ON_STARTUP"),

		RateLimitRPS:   envInt("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 0),

		QuotaStore: quotaStore,
		Redis:      redisCfg,

		Provider: provider,
		Gateway: GatewayConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   time.Duration(baseDelayMS) * time.Millisecond,
			MinInterval: time.Duration(minIntervalMS) * time.Millisecond,
		},
		Sync:    syncCfg,
		Match:   matchCfg,
		Archive: archive,

		Warnings: warnings,
	}
}

// IsProduction reports whether the environment needs strict validation.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "staging"
}

// Validate returns the problems that must stop a non-local deployment.
func (c *Config) Validate() []string {
	var problems []string
	if c.Archive.Mode == ArchiveModeS3 {
		if missing := c.Archive.S3.MissingRequired(); len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("ARCHIVE_MODE=s3 but S3 config is incomplete, missing: %s", strings.Join(missing, ", ")))
		}
	}
	if !c.IsProduction() {
		return problems
	}
	if c.DatabaseURL == "" {
		problems = append(problems, fmt.Sprintf("no DATABASE_URL configured in %s", c.Env))
	}
	if c.QuotaStore == QuotaStoreMemory {
		problems = append(problems, fmt.Sprintf("QUOTA_STORE=memory is not shared across processes in %s", c.Env))
	}
	if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		problems = append(problems, "PROVIDER_CLIENT_ID and PROVIDER_CLIENT_SECRET are required")
	}
	return problems
}

func nonEmptyOrDash(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "-"
	}
	return v
}

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}

// envInt reads an int env var with a default value.
func envInt(key string, defaultVal int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func envFloat(key string, defaultVal float64) float64 {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
