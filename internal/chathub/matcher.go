package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

var (
	// ErrRaceLost means another matcher claimed the same waiter first. It is
	// always handled locally by retrying.
	ErrRaceLost = errors.New("lost pairing race")
	// ErrCancelled means the queue join was cancelled before a match.
	ErrCancelled = errors.New("queue join cancelled")
	// ErrNotMatched means the attempt exhausted its retries.
	ErrNotMatched = errors.New("pairing attempt not matched")
)

// MatchResult is the terminal outcome of a successful queue join. Both
// participants converge on the same session id; Role records which side of
// the rendezvous this client was.
type MatchResult struct {
	SessionID string
	Role      string
}

// Matchmaker pairs two clients with the same mode, first come first served.
// It holds no state of its own; all coordination goes through the store's
// atomic row operations and change events.
type Matchmaker struct {
	store      storage.Store
	staleAfter time.Duration
	retryLimit int
	now        func() time.Time
}

func NewMatchmaker(store storage.Store, opts Options) *Matchmaker {
	return &Matchmaker{
		store:      store,
		staleAfter: opts.QueueStaleAfter,
		retryLimit: opts.MatchRetryLimit,
		now:        time.Now,
	}
}

// JoinQueue runs the pairing protocol for mode until this client is matched,
// the context is cancelled, or the race-retry bound is hit.
//
// If a waiter exists this client becomes user2: it creates the session,
// stamps it onto the waiter's queue row and deletes the row in one claim.
// Otherwise it inserts its own entry and becomes user1, waiting for the
// DELETE event on that row to carry the session id back.
func (m *Matchmaker) JoinQueue(ctx context.Context, mode string) (*MatchResult, error) {
	raceLost := 0
	for {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		waiter, err := m.store.PopOldestEntry(mode)
		if err != nil {
			return nil, err
		}
		if waiter == nil {
			return m.waitForMatch(ctx, mode)
		}

		// A waiter whose tab closed without the unload beacon firing leaves a
		// stale row behind. Reap it (delete without stamping, which the
		// waiting side reads as a cancellation) and look again. Reaping does
		// not consume a retry.
		if m.now().Sub(waiter.JoinedAt) > m.staleAfter {
			if _, err := m.store.DeleteQueueEntry(waiter.ID); err != nil {
				return nil, err
			}
			continue
		}

		result, err := m.claimWaiter(mode, waiter)
		if errors.Is(err, ErrRaceLost) {
			raceLost++
			if raceLost >= m.retryLimit {
				return nil, ErrNotMatched
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// claimWaiter is the user2 leg: create a speculative session, then stamp and
// delete the waiter's row atomically. If the row is already gone (the waiter
// cancelled, or another matcher won), the speculative session must not be
// left orphaned.
func (m *Matchmaker) claimWaiter(mode string, waiter *models.QueueEntry) (*MatchResult, error) {
	session, err := m.store.InsertSession(mode)
	if err != nil {
		return nil, err
	}

	claimed, err := m.store.ClaimQueueEntry(waiter.ID, session.ID)
	if err != nil || !claimed {
		if _, derr := m.store.DeleteSession(session.ID); derr != nil {
			// The orphan reaper sweeps message-less sessions later.
			log.Printf("WARNING: failed to delete speculative session %s: %v", session.ID, derr)
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrRaceLost
	}

	return &MatchResult{SessionID: session.ID, Role: models.RoleUser2}, nil
}

// waitForMatch is the user1 leg: insert our own entry and wait for its DELETE
// event. The subscription is registered before the insert so the event cannot
// slip past between the row becoming visible and the stream attaching.
func (m *Matchmaker) waitForMatch(ctx context.Context, mode string) (*MatchResult, error) {
	entry := &models.QueueEntry{
		ID:       uuid.New().String(),
		Mode:     mode,
		JoinedAt: m.now().UTC(),
	}

	sub := m.store.Subscribe(
		storage.TableQueue,
		storage.Filter{Column: "id", Value: entry.ID},
		storage.OpDelete,
	)
	defer sub.Cancel()

	if err := m.store.InsertQueueEntry(entry); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if _, err := m.store.DeleteQueueEntry(entry.ID); err != nil {
			log.Printf("WARNING: failed to delete queue entry %s on cancel: %v", entry.ID, err)
		}
		return nil, ErrCancelled

	case e, ok := <-sub.C:
		if !ok {
			return nil, ErrNotMatched
		}
		var row models.QueueEntry
		if err := json.Unmarshal(e.Row, &row); err != nil {
			log.Printf("ERROR: failed to decode queue row image for %s: %v", entry.ID, err)
			return nil, ErrNotMatched
		}
		if row.SessionID != "" {
			return &MatchResult{SessionID: row.SessionID, Role: models.RoleUser1}, nil
		}
		// The row was deleted without a stamp: usually a cancellation or a
		// stale reap, rarely a matcher that skipped the stamp. Look for the
		// newest session of our mode created after we joined; if none, treat
		// the delete as a cancellation.
		session, err := m.store.NewestSessionSince(mode, entry.JoinedAt)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, ErrCancelled
		}
		return &MatchResult{SessionID: session.ID, Role: models.RoleUser1}, nil
	}
}
