package chathub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

func newTestStore(t *testing.T) *storage.Service {
	t.Helper()

	db, err := storage.OpenDatabase("sqlite://:memory:")
	require.NoError(t, err)

	// Every pool connection would otherwise open its own private in-memory
	// database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.Migrate(db))
	return storage.NewService(db, storage.NewMemoryBus())
}

// testOptions keeps the tunables tight so async assertions settle quickly.
// The rate limiter is off by default; tests that exercise it opt in.
func testOptions() chathub.Options {
	return chathub.Options{
		SendMinInterval:         0,
		ViolationLimit:          3,
		QueueStaleAfter:         time.Minute,
		DisconnectAnnounceDelay: 20 * time.Millisecond,
		MatchRetryLimit:         3,
	}
}

func countSessions(t *testing.T, store *storage.Service) int64 {
	t.Helper()
	var count int64
	require.NoError(t, store.DB.Model(&models.ChatSession{}).Count(&count).Error)
	return count
}

// waitForQueueEntry polls until a waiter for mode is visible and returns it.
func waitForQueueEntry(t *testing.T, store *storage.Service, mode string) *models.QueueEntry {
	t.Helper()
	var entry *models.QueueEntry
	require.Eventually(t, func() bool {
		var err error
		entry, err = store.PopOldestEntry(mode)
		return err == nil && entry != nil
	}, 2*time.Second, 5*time.Millisecond, "no queue entry appeared for mode %s", mode)
	return entry
}

func requireEmptyQueue(t *testing.T, store *storage.Service, mode string) {
	t.Helper()
	require.Eventually(t, func() bool {
		entry, err := store.PopOldestEntry(mode)
		return err == nil && entry == nil
	}, 2*time.Second, 5*time.Millisecond, "queue for mode %s not empty", mode)
}

// waitForEvent drains ch until an event of the wanted type arrives.
func waitForEvent(t *testing.T, ch <-chan chathub.ClientEvent, want chathub.EventType) chathub.ClientEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
			return chathub.ClientEvent{}
		}
	}
}

func waitForState(t *testing.T, ctrl *chathub.Controller, want chathub.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ctrl.State() == want
	}, 2*time.Second, 5*time.Millisecond, "controller never reached state %s", want)
}
