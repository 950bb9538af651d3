package blob

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appcfg "github.com/fdg312/trailmate/internal/config"
	"github.com/fdg312/trailmate/internal/logging"
)

// NewArchiveStore builds the archive store for mode local|s3|auto.
// local means no archive: the returned store is nil.
func NewArchiveStore(ctx context.Context, cfg appcfg.ArchiveConfig, logger *zap.Logger) (Store, string, error) {
	logger = logging.OrNop(logger).With(zap.String("component", "archive"))

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = appcfg.ArchiveModeLocal
	}

	switch mode {
	case appcfg.ArchiveModeLocal:
		logger.Info("archive_disabled", zap.String("mode", mode))
		return nil, appcfg.ArchiveModeLocal, nil

	case appcfg.ArchiveModeAuto:
		if !cfg.S3.IsConfigured() {
			level, code, msg := cfg.S3.Diagnostics()
			logger.Info("archive_s3_unavailable",
				zap.String("level", level),
				zap.String("code", code),
				zap.String("detail", msg),
				zap.String("s3", cfg.S3.DiagnosticsSummary()),
			)
			return nil, appcfg.ArchiveModeLocal, nil
		}

		store, err := NewS3Store(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey)
		if err != nil {
			logger.Warn("archive_s3_init_failed", zap.Error(err))
			return nil, appcfg.ArchiveModeLocal, nil
		}
		logger.Info("archive_enabled", zap.String("mode", "s3"), zap.String("s3", cfg.S3.DiagnosticsSummary()))
		return store, appcfg.ArchiveModeS3, nil

	case appcfg.ArchiveModeS3:
		if !cfg.S3.IsConfigured() {
			missing := cfg.S3.MissingRequired()
			return nil, "", fmt.Errorf("ARCHIVE_MODE=s3 requested but missing required config: %s", strings.Join(missing, ", "))
		}

		store, err := NewS3Store(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey)
		if err != nil {
			return nil, "", fmt.Errorf("ARCHIVE_MODE=s3 init failed: %w", err)
		}
		logger.Info("archive_enabled", zap.String("mode", "s3"), zap.String("s3", cfg.S3.DiagnosticsSummary()))
		return store, appcfg.ArchiveModeS3, nil

	default:
		return nil, "", fmt.Errorf("unsupported archive mode: %s", mode)
	}
}
