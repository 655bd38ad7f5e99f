package chathub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberchat/backend/internal/chathub"
	"emberchat/backend/internal/models"
	"emberchat/backend/internal/storage"
)

func TestJoinQueuePairsTwoClients(t *testing.T) {
	store := newTestStore(t)
	opts := testOptions()

	type outcome struct {
		result *chathub.MatchResult
		err    error
	}
	first := make(chan outcome, 1)

	go func() {
		m := chathub.NewMatchmaker(store, opts)
		result, err := m.JoinQueue(context.Background(), models.ModeFree)
		first <- outcome{result, err}
	}()

	// The first client must be visible as a waiter before the second joins.
	waitForQueueEntry(t, store, models.ModeFree)

	second := chathub.NewMatchmaker(store, opts)
	got2, err := second.JoinQueue(context.Background(), models.ModeFree)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser2, got2.Role)

	var got1 outcome
	select {
	case got1 = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("waiting client never got its match")
	}
	require.NoError(t, got1.err)
	assert.Equal(t, models.RoleUser1, got1.result.Role)

	// Both converge on the same session; the queue row is consumed.
	assert.Equal(t, got2.SessionID, got1.result.SessionID)
	assert.Equal(t, int64(1), countSessions(t, store))
	requireEmptyQueue(t, store, models.ModeFree)
}

func TestJoinQueueModesDoNotMix(t *testing.T) {
	store := newTestStore(t)
	opts := testOptions()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		m := chathub.NewMatchmaker(store, opts)
		_, err := m.JoinQueue(ctx, models.ModeSpicy)
		errs <- err
	}()
	waitForQueueEntry(t, store, models.ModeSpicy)

	// A free-mode client must not claim the spicy waiter; with nobody else
	// waiting it parks itself instead.
	freeCtx, freeCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer freeCancel()
	m := chathub.NewMatchmaker(store, opts)
	_, err := m.JoinQueue(freeCtx, models.ModeFree)
	assert.ErrorIs(t, err, chathub.ErrCancelled)

	cancel()
	assert.ErrorIs(t, <-errs, chathub.ErrCancelled)
	assert.Zero(t, countSessions(t, store))
}

func TestJoinQueueCancelRemovesEntry(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		m := chathub.NewMatchmaker(store, testOptions())
		_, err := m.JoinQueue(ctx, models.ModeFree)
		errs <- err
	}()

	waitForQueueEntry(t, store, models.ModeFree)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, chathub.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled join never returned")
	}

	requireEmptyQueue(t, store, models.ModeFree)
	assert.Zero(t, countSessions(t, store))
}

func TestJoinQueueReapsStaleWaiter(t *testing.T) {
	store := newTestStore(t)

	// A waiter whose tab died long ago, and a live one behind it.
	stale := &models.QueueEntry{Mode: models.ModeFree, JoinedAt: time.Now().Add(-2 * time.Minute).UTC()}
	fresh := &models.QueueEntry{Mode: models.ModeFree}
	require.NoError(t, store.InsertQueueEntry(stale))
	require.NoError(t, store.InsertQueueEntry(fresh))

	m := chathub.NewMatchmaker(store, testOptions())
	result, err := m.JoinQueue(context.Background(), models.ModeFree)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser2, result.Role)

	// The stale entry was reaped, not matched, and the fresh one was claimed.
	requireEmptyQueue(t, store, models.ModeFree)
	staleGone, err := store.DeleteQueueEntry(stale.ID)
	require.NoError(t, err)
	assert.False(t, staleGone)
	assert.Equal(t, int64(1), countSessions(t, store))
}

// TestConcurrentJoinsPairEveryone throws an even crowd of clients at the
// queue at once: everyone must pair off, every session must hold exactly one
// user1 and one user2, and nothing may be left behind.
func TestConcurrentJoinsPairEveryone(t *testing.T) {
	store := newTestStore(t)
	opts := testOptions()
	// Under real contention a client can lose several claim races in a row.
	opts.MatchRetryLimit = 20

	const clients = 10
	type outcome struct {
		result *chathub.MatchResult
		err    error
	}
	results := make(chan outcome, clients)
	for i := 0; i < clients; i++ {
		go func() {
			m := chathub.NewMatchmaker(store, opts)
			result, err := m.JoinQueue(context.Background(), models.ModeFree)
			results <- outcome{result, err}
		}()
	}

	bySession := make(map[string][]string)
	for i := 0; i < clients; i++ {
		select {
		case got := <-results:
			require.NoError(t, got.err)
			bySession[got.result.SessionID] = append(bySession[got.result.SessionID], got.result.Role)
		case <-time.After(10 * time.Second):
			t.Fatalf("only %d of %d clients resolved", i, clients)
		}
	}

	assert.Len(t, bySession, clients/2)
	for sessionID, roles := range bySession {
		assert.ElementsMatch(t, []string{models.RoleUser1, models.RoleUser2}, roles,
			"session %s must hold complementary roles", sessionID)
	}
	assert.Equal(t, int64(clients/2), countSessions(t, store))
	requireEmptyQueue(t, store, models.ModeFree)
}

// ghostStore hands the matcher a waiter that no longer exists in the queue,
// which is exactly what a lost claim race looks like from the loser's side.
type ghostStore struct {
	storage.Store
	ghost *models.QueueEntry
}

func (g *ghostStore) PopOldestEntry(mode string) (*models.QueueEntry, error) {
	return g.ghost, nil
}

func TestJoinQueueRetryBound(t *testing.T) {
	store := newTestStore(t)
	ghost := &ghostStore{
		Store: store,
		ghost: &models.QueueEntry{ID: "gone", Mode: models.ModeFree, JoinedAt: time.Now().UTC()},
	}

	m := chathub.NewMatchmaker(ghost, testOptions())
	_, err := m.JoinQueue(context.Background(), models.ModeFree)
	assert.ErrorIs(t, err, chathub.ErrNotMatched)

	// Every lost round must clean up its speculative session.
	assert.Zero(t, countSessions(t, store))
}

func TestUnstampedDeleteFallsBackToNewestSession(t *testing.T) {
	store := newTestStore(t)

	type outcome struct {
		result *chathub.MatchResult
		err    error
	}
	results := make(chan outcome, 1)
	go func() {
		m := chathub.NewMatchmaker(store, testOptions())
		result, err := m.JoinQueue(context.Background(), models.ModeFree)
		results <- outcome{result, err}
	}()

	entry := waitForQueueEntry(t, store, models.ModeFree)

	// A matcher that created the session but deleted the row without the
	// stamp. The waiter must find the session by recency.
	time.Sleep(10 * time.Millisecond)
	session, err := store.InsertSession(models.ModeFree)
	require.NoError(t, err)
	deleted, err := store.DeleteQueueEntry(entry.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	select {
	case got := <-results:
		require.NoError(t, got.err)
		assert.Equal(t, session.ID, got.result.SessionID)
		assert.Equal(t, models.RoleUser1, got.result.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never resolved the unstamped handoff")
	}
}

func TestUnstampedDeleteWithoutSessionIsCancellation(t *testing.T) {
	store := newTestStore(t)

	errs := make(chan error, 1)
	go func() {
		m := chathub.NewMatchmaker(store, testOptions())
		_, err := m.JoinQueue(context.Background(), models.ModeFree)
		errs <- err
	}()

	entry := waitForQueueEntry(t, store, models.ModeFree)

	// The reaper (or an unload beacon) deleting the row with no session
	// anywhere reads as a cancellation.
	deleted, err := store.DeleteQueueEntry(entry.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, chathub.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never returned after its entry was reaped")
	}
}
