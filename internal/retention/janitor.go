// Package retention prunes aged entries out of the append-only streams
// so their JSONL files do not grow without bound. The janitor runs as a
// background goroutine and stops when its context is canceled. Streams
// with durable value (the commit ledger, reports) are never pruned.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleethub/fleethub/internal/ids"
)

// Target is one prunable stream. Prune drops entries older than the
// cutoff timestamp and reports how many were removed.
type Target struct {
	Name  string
	Prune func(before string) (int, error)
}

// Janitor periodically prunes every registered target.
type Janitor struct {
	targets  []Target
	days     int
	interval time.Duration

	// now is the clock; tests swap it for a fake.
	now func() time.Time
}

// NewJanitor creates a janitor keeping the last days of history,
// sweeping on the given interval.
func NewJanitor(days int, interval time.Duration, targets ...Target) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{targets: targets, days: days, interval: interval, now: time.Now}
}

// Start runs the janitor until ctx is canceled. The first sweep happens
// immediately.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Int("days", j.days).
		Dur("interval", j.interval).
		Int("targets", len(j.targets)).
		Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runCycle()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.runCycle()
		}
	}
}

// runCycle performs one sweep across all targets.
func (j *Janitor) runCycle() {
	if j.days <= 0 {
		return
	}
	start := j.now()
	cutoff := ids.Format(start.AddDate(0, 0, -j.days))

	total := 0
	for _, t := range j.targets {
		removed, err := t.Prune(cutoff)
		if err != nil {
			log.Warn().Err(err).Str("stream", t.Name).Msg("retention prune failed")
			continue
		}
		total += removed
	}
	if total > 0 {
		log.Info().
			Int("removed", total).
			Str("cutoff", cutoff).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
}
