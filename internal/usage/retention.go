package usage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes usage events older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor trims usage events past the retention horizon on a fixed
// sweep interval. Quota counters are untouched; they expire on their
// own via TTL.
type Janitor struct {
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger

	done chan struct{}
}

func NewJanitor(pruner Pruner, retention, interval time.Duration, log zerolog.Logger) *Janitor {
	j := &Janitor{
		pruner:    pruner,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "retention").Logger(),
		done:      make(chan struct{}),
	}

	go j.run()

	return j
}

func (j *Janitor) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.done:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	deleted, err := j.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("trimmed usage events")
	}
}

func (j *Janitor) Stop() {
	close(j.done)
}
