// Package fake provides utilities for generating random listing entries and detection history
// for testing and development purposes.
package fake

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/pingwatch/internal/models"
)

// Recorder is the storage subset needed to seed history.
type Recorder interface {
	RecordDetection(ctx context.Context, d models.Detection) error
}

// serverSizes are common max player counts of public servers.
var serverSizes = []int{6, 8, 10, 12, 16, 20, 30, 50}

// Entries returns count random listing entries with ping spread across [5, maxPing*2].
// Job IDs are random UUIDs, like the real listing.
func Entries(count, maxPing int) []models.Entry {
	if maxPing <= 0 {
		maxPing = 50
	}

	entries := make([]models.Entry, 0, count)
	for i := 0; i < count; i++ {
		size := serverSizes[rand.Intn(len(serverSizes))]
		entries = append(entries, models.Entry{
			ID:         uuid.NewString(),
			Ping:       5 + rand.Intn(maxPing*2),
			Playing:    rand.Intn(size + 1),
			MaxPlayers: size,
			FPS:        50 + rand.Float64()*10,
		})
	}

	return entries
}

// GenerateData populates the history with count detections spread over the last 30 days.
func GenerateData(ctx context.Context, store Recorder, placeID string, maxPing, count int) int {
	entries := Entries(count, maxPing)
	base := time.Now().UTC().Add(-30 * 24 * time.Hour)
	step := 30 * 24 * time.Hour / time.Duration(max(count, 1))

	written := 0
	for i, entry := range entries {
		d := models.Detection{
			// jitter inside each slot keeps detections ordered by number
			DetectedAt: base.Add(time.Duration(i)*step + time.Duration(rand.Int63n(int64(step/2)+1))),
			JobID:      entry.ID,
			PlaceID:    placeID,
			Ping:       entry.Ping,
			Playing:    entry.Playing,
			MaxPlayers: entry.MaxPlayers,
			Number:     int64(i + 1),
		}

		if err := store.RecordDetection(ctx, d); err != nil {
			log.Warn().Err(err).Msg("Failed to generate fake detection")
			continue
		}
		written++
	}

	return written
}
