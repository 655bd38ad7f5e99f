// Package reaper sweeps the two kinds of garbage the pairing protocol can
// leave behind: queue entries whose tab closed without the unload beacon
// firing, and sessions that never saw a message because a matcher crashed
// between creating its speculative session and losing the claim race.
package reaper

import (
	"context"
	"log"
	"time"

	"emberchat/backend/internal/storage"
)

type Reaper struct {
	Store       storage.Store
	StaleAfter  time.Duration
	OrphanAfter time.Duration
	Interval    time.Duration

	now func() time.Time
}

func New(store storage.Store, staleAfter, orphanAfter, interval time.Duration) *Reaper {
	return &Reaper{
		Store:       store,
		StaleAfter:  staleAfter,
		OrphanAfter: orphanAfter,
		Interval:    interval,
		now:         time.Now,
	}
}

// Run sweeps on a ticker until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	log.Println("Reaper started.")
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, sessions, err := r.Sweep()
			if err != nil {
				log.Printf("ERROR: reaper sweep failed: %v", err)
				continue
			}
			if entries > 0 || sessions > 0 {
				log.Printf("reaper swept %d stale queue entries, %d orphan sessions", entries, sessions)
			}
		}
	}
}

// Sweep runs one pass and returns how many queue entries and sessions were
// removed. Stale entries are deleted without stamping, which any waiter still
// subscribed reads as a cancellation.
func (r *Reaper) Sweep() (int, int, error) {
	now := r.now()

	stale, err := r.Store.StaleQueueEntries(now.Add(-r.StaleAfter))
	if err != nil {
		return 0, 0, err
	}
	removedEntries := 0
	for _, entry := range stale {
		deleted, err := r.Store.DeleteQueueEntry(entry.ID)
		if err != nil {
			log.Printf("WARNING: failed to reap queue entry %s: %v", entry.ID, err)
			continue
		}
		if deleted {
			removedEntries++
		}
	}

	orphans, err := r.Store.OrphanSessions(now.Add(-r.OrphanAfter))
	if err != nil {
		return removedEntries, 0, err
	}
	removedSessions := 0
	for _, session := range orphans {
		deleted, err := r.Store.DeleteSession(session.ID)
		if err != nil {
			log.Printf("WARNING: failed to reap session %s: %v", session.ID, err)
			continue
		}
		if deleted {
			removedSessions++
		}
	}

	return removedEntries, removedSessions, nil
}
