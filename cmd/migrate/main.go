package main

import (
	"log"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/fdg312/trailmate/internal/config"
	"github.com/fdg312/trailmate/internal/dbmigrate"
	"github.com/fdg312/trailmate/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: go run ./cmd/migrate [up|status|down]")
	}

	command := os.Args[1]
	switch command {
	case "up", "status", "down":
	default:
		log.Fatalf("unsupported command %q (allowed: up, status, down)", command)
	}

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	sel, err := dbmigrate.SelectDatabaseURL(cfg, false)
	if err != nil {
		logger.Fatal("migrate_no_database", zap.Error(err))
	}
	if sel.Warning != "" {
		logger.Warn("migrate_warning", zap.String("detail", sel.Warning))
	}
	logger.Info("migrate_started", zap.String("command", command), zap.String("using", sel.Source))

	if err := dbmigrate.Run(command, sel.URL); err != nil {
		logger.Fatal("migrate_failed", zap.String("command", command), zap.Error(err))
	}

	logger.Info("migrate_completed", zap.String("command", command))
}
