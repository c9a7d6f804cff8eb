package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aristath/instrument-sync/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	criticalFreeBytes = 500 << 20 // 500MB
	lowFreeBytes      = 5 << 30   // 5GB
)

// DiskUsageFunc reports usage for the filesystem holding path
type DiskUsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// MaintenanceJob keeps the SQLite instrument database healthy between runs
// (nightly, scheduled mode only)
type MaintenanceJob struct {
	db        *database.DB
	diskUsage DiskUsageFunc
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job for db
func NewMaintenanceJob(db *database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:        db,
		diskUsage: disk.UsageWithContext,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// SetDiskUsage replaces the free-space lookup
func (j *MaintenanceJob) SetDiskUsage(fn DiskUsageFunc) {
	j.diskUsage = fn
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting database maintenance")
	startTime := time.Now()

	// Step 1: Connectivity
	if err := j.db.QuickCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: Database unreachable")
		return err
	}

	// Step 2: WAL checkpoint (prevent bloat after large upsert batches)
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	// Step 3: Disk space
	if err := j.checkDiskSpace(ctx); err != nil {
		return err
	}

	// Step 4: Growth
	if stats, err := j.db.GetStats(); err != nil {
		j.log.Error().Err(err).Msg("Failed to get database stats")
	} else {
		j.log.Info().
			Str("database", j.db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Int64("page_count", stats.PageCount).
			Msg("Database metrics")
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Database maintenance completed")

	return nil
}

func (j *MaintenanceJob) checkDiskSpace(ctx context.Context) error {
	usage, err := j.diskUsage(ctx, filepath.Dir(j.db.Path()))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to stat filesystem")
		return nil
	}

	j.log.Debug().Uint64("free_bytes", usage.Free).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")

	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Uint64("free_bytes", usage.Free).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: only %d MB free on %s", usage.Free>>20, usage.Path)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Uint64("free_bytes", usage.Free).Msg("Disk space running low")
	}

	return nil
}
