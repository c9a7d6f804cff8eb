// Package reliability holds the operational side jobs: run-report archiving
// to object storage and nightly SQLite maintenance.
package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/rs/zerolog"
)

const defaultUploadTimeout = 30 * time.Second

// Uploader stores one object
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// RunArchive uploads every finished run record as JSON. Upload failures never
// affect the run.
type RunArchive struct {
	uploader Uploader
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRunArchive creates an archive writing through uploader
func NewRunArchive(uploader Uploader, log zerolog.Logger) *RunArchive {
	return &RunArchive{
		uploader: uploader,
		timeout:  defaultUploadTimeout,
		log:      log.With().Str("service", "run_archive").Logger(),
	}
}

// ArchiveKey returns runs/YYYY/MM/DD/<id>.json, dated by the run start in UTC
func ArchiveKey(run domain.RunRecord) string {
	return fmt.Sprintf("runs/%s/%s.json", run.StartedAt.UTC().Format("2006/01/02"), run.ID)
}

// RunFinished uploads run
func (a *RunArchive) RunFinished(ctx context.Context, run domain.RunRecord) {
	if err := a.Archive(ctx, run); err != nil {
		a.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to archive run report")
	}
}

// Archive uploads run and returns the upload error
func (a *RunArchive) Archive(ctx context.Context, run domain.RunRecord) error {
	payload, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := ArchiveKey(run)
	if err := a.uploader.Upload(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
		return err
	}

	a.log.Info().
		Str("run_id", run.ID).
		Str("key", key).
		Int("size_bytes", len(payload)).
		Msg("Run report archived")
	return nil
}
