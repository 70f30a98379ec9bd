// Archiver uploads verified segments of each tenant's journal chain to an
// S3-compatible bucket and advances the per-tenant archive checkpoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bturcanu/opentoolbox/pkg/archiver"
	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/journal"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()}))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	driver, dsn := config.JournalDSN()
	store, err := journal.Open(ctx, driver, dsn)
	if err != nil {
		log.Error("journal open failed", "driver", driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	region := config.EnvOr("JOURNAL_S3_REGION", "us-east-1")
	uploader, err := archiver.NewMinioUploader(archiver.MinioConfig{
		Endpoint:  config.EnvOr("JOURNAL_S3_ENDPOINT", "localhost:9000"),
		AccessKey: config.EnvOr("JOURNAL_S3_ACCESS_KEY", "minioadmin"),
		SecretKey: config.EnvOr("JOURNAL_S3_SECRET_KEY", "minioadmin"),
		Region:    region,
		Bucket:    config.EnvOr("JOURNAL_S3_BUCKET", "toolbox-journal"),
		Secure:    config.EnvOrBool("JOURNAL_S3_SECURE", false),
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}
	if err := uploader.EnsureBucket(ctx, region); err != nil {
		log.Error("bucket check failed", "error", err)
		os.Exit(1)
	}

	interval := config.EnvOrDuration("ARCHIVER_INTERVAL", 5*time.Minute)
	if config.EnvOrBool("ARCHIVER_RUN_ONCE", true) {
		interval = 0
	}
	tenantID := os.Getenv("ARCHIVER_TENANT_ID")

	svc := archiver.New(store, uploader, log)
	log.Info("archiver starting", "tenant_id", tenantID, "interval", interval.String())
	if err := svc.Run(ctx, tenantID, interval); err != nil {
		log.Error("archive run failed", "error", err)
		os.Exit(1)
	}
	log.Info("archiver stopped")
}
