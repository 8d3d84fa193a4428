package workers

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"guild-war-system/services"
)

const defaultArchiveRetentionDays = 90

// ArchiveRetentionDays reads ARCHIVE_RETENTION_DAYS, falling back to the
// default when unset or invalid.
func ArchiveRetentionDays() int {
	raw := os.Getenv("ARCHIVE_RETENTION_DAYS")
	if raw == "" {
		return defaultArchiveRetentionDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		log.Printf("⚠️ Invalid ARCHIVE_RETENTION_DAYS %q, using %d", raw, defaultArchiveRetentionDays)
		return defaultArchiveRetentionDays
	}
	return days
}

// PollArchivePurge deletes archived war records older than the retention
// window. Runs until ctx is cancelled.
func PollArchivePurge(ctx context.Context, archive *services.ArchiveService, pollInterval time.Duration) {
	days := ArchiveRetentionDays()
	log.Printf("Starting archive purge worker (retention %d days)...", days)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Archive purge worker stopped.")
			return
		case <-ticker.C:
			purged, err := archive.PurgeOlderThan(ctx, days)
			if err != nil {
				log.Printf("❌ Archive purge failed: %v", err)
				continue
			}
			if purged == 0 {
				continue
			}
			log.Printf("🗑️ Purged %d expired war archive(s).", purged)
		}
	}
}
