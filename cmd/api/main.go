package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/config"
	"github.com/fdg312/trailmate/internal/dbmigrate"
	"github.com/fdg312/trailmate/internal/httpserver"
	"github.com/fdg312/trailmate/internal/logging"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		logger.Warn("config_warning", zap.String("detail", w))
	}
	logStartupBanner(logger, cfg)

	if problems := cfg.Validate(); len(problems) > 0 {
		logger.Fatal("config_invalid", zap.String("env", cfg.Env), zap.Strings("problems", problems))
	}

	if cfg.RunMigrationsOnStartup {
		sel, err := dbmigrate.SelectDatabaseURL(cfg, true)
		if err != nil {
			logger.Fatal("startup_migrations_failed", zap.Error(err))
		}
		logger.Info("startup_migrations", zap.String("command", "up"), zap.String("using", sel.Source))
		if err := dbmigrate.Run("up", sel.URL); err != nil {
			logger.Fatal("startup_migrations_failed", zap.Error(err))
		}
	}

	server, err := httpserver.New(cfg, logger)
	if err != nil {
		logger.Fatal("server_init_failed", zap.Error(err))
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Error("server_stopped", zap.Error(err))
	}
}

// logStartupBanner logs the resolved configuration once. Secrets are reported as set / not set.
func logStartupBanner(logger *zap.Logger, cfg *config.Config) {
	logger.Info("startup",
		zap.String("service", "trailmate-api"),
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
	)
	logger.Info("startup_database",
		zap.String("runtime_url", describeDBURL(cfg.DatabaseURL, cfg.DatabaseURLPooled)),
		zap.String("direct", setOrNot(cfg.DatabaseURLDirect)),
		zap.Bool("migrations_on_startup", cfg.RunMigrationsOnStartup),
	)
	logger.Info("startup_quota",
		zap.String("store", cfg.QuotaStore),
		zap.String("redis", nonEmptyOrDash(cfg.Redis.URL)),
		zap.Int("window_limit", cfg.Provider.WindowLimit),
		zap.Int("daily_limit", cfg.Provider.DailyLimit),
		zap.Duration("window", cfg.Provider.WindowDuration),
		zap.Int("max_attempts", cfg.Gateway.MaxAttempts),
	)
	logger.Info("startup_provider",
		zap.String("base_url", cfg.Provider.BaseURL),
		zap.String("client_id", setOrNot(cfg.Provider.ClientID)),
		zap.String("client_secret", setOrNot(cfg.Provider.ClientSecret)),
		zap.Int("sync_max_parallel", cfg.Sync.MaxParallel),
	)
	logger.Info("startup_archive",
		zap.String("mode", cfg.Archive.Mode),
		zap.String("s3", cfg.Archive.S3.DiagnosticsSummary()),
	)
}

func setOrNot(v string) string {
	if strings.TrimSpace(v) == "" {
		return "not set"
	}
	return "set"
}

func nonEmptyOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

func describeDBURL(runtime, pooled string) string {
	if runtime == "" {
		return "not set (will use in-memory storage)"
	}
	if pooled != "" && runtime == pooled {
		return "set (via DATABASE_URL_POOLED)"
	}
	return "set"
}
