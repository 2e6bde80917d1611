// Package maintenance provides one-shot tools for the detection history database.
package maintenance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/pingwatch/internal/config"
	"github.com/woozymasta/pingwatch/internal/fake"
	"github.com/woozymasta/pingwatch/internal/models"
)

// Store is the history subset used by maintenance tasks.
type Store interface {
	RecordDetection(ctx context.Context, d models.Detection) error
	DeleteDetectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountDetections(ctx context.Context) (int64, error)
}

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg *config.Config, store Store) bool {
	switch {
	case cfg.Storage.GenerateCount > 0:
		log.Info().Int("count", cfg.Storage.GenerateCount).Msg("Generating fake detections...")
		written := fake.GenerateData(ctx, store, cfg.Scan.PlaceID, cfg.Scan.MaxPing, cfg.Storage.GenerateCount)
		log.Info().Int("written", written).Msg("Fake data generated")

	case cfg.Storage.PruneBefore > 0:
		cutoff := time.Now().Add(-cfg.Storage.PruneBefore)
		log.Info().Time("cutoff", cutoff).Msg("Pruning old detections...")

		deleted, err := store.DeleteDetectionsBefore(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune detections")
			return true
		}
		log.Info().Int64("deleted", deleted).Msg("Prune finished")

	default:
		return false
	}

	if total, err := store.CountDetections(ctx); err == nil {
		log.Info().Int64("total", total).Msg("Detections in history")
	}

	return true
}
