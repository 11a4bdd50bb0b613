package session

import (
	"context"
	"log"
	"os"
	"time"
)

// Janitor evicts terminal sessions that were never retrieved, deleting their
// scratch output directories so abandoned conversions cannot leak disk.
type Janitor struct {
	store     Store
	retention time.Duration
	interval  time.Duration
}

// NewJanitor creates a janitor that removes terminal sessions older than
// retention, sweeping every interval.
func NewJanitor(store Store, retention, interval time.Duration) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Run sweeps until ctx is cancelled. Intended to run as a goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	removed, err := j.store.Sweep(ctx, cutoff)
	if err != nil {
		log.Printf("Janitor sweep error: %v", err)
	}
	for _, sess := range removed {
		if sess.OutputDir != "" {
			if err := os.RemoveAll(sess.OutputDir); err != nil {
				log.Printf("Janitor: failed to remove %s: %v", sess.OutputDir, err)
			}
		}
		log.Printf("Janitor: evicted session %s (%s)", sess.ID, sess.Status)
	}
}
