package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Saver is anything that can snapshot its state.
type Saver interface {
	SaveAll() error
}

// RunPeriodicSave snapshots s every interval until ctx is done. Call from main or app lifecycle.
func RunPeriodicSave(ctx context.Context, s Saver, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SaveAll(); err != nil {
				log.Error().Err(err).Msg("periodic save failed")
			}
		}
	}
}
