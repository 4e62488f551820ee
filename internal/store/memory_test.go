package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midlaj1055/live-chat/internal/models"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

// collector gathers snapshots delivered on the watch goroutine.
type collector[T any] struct {
	ch chan T
}

func newCollector[T any]() *collector[T] {
	return &collector[T]{ch: make(chan T, 16)}
}

func (c *collector[T]) add(v T) { c.ch <- v }

func (c *collector[T]) next(t *testing.T) T {
	t.Helper()
	select {
	case v := <-c.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	var zero T
	return zero
}

func TestMemoryPresenceCreatesThenUpdates(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()
	profile := models.Profile{ID: "a", DisplayName: "Alice", PhotoURL: "https://example.com/a.png"}

	require.NoError(t, s.WritePresence(ctx, profile, true))
	p, err := s.GetParticipant(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Online)
	assert.Equal(t, "Alice", p.DisplayName)
	require.NotNil(t, p.LastSeen)
	assert.True(t, clock.Now().Equal(*p.LastSeen))

	// The profile only seeds a new record.
	clock.Advance(time.Minute)
	profile.DisplayName = "Renamed"
	require.NoError(t, s.WritePresence(ctx, profile, false))
	p, err = s.GetParticipant(ctx, "a")
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.True(t, clock.Now().Equal(*p.LastSeen))

	missing, err := s.GetParticipant(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryServerTimeNeverRunsBackwards(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	first, err := s.ServerTime(ctx)
	require.NoError(t, err)
	clock.Advance(-time.Hour)
	second, err := s.ServerTime(ctx)
	require.NoError(t, err)
	assert.False(t, second.Before(first))
}

func TestMemoryMessagesOrderedAndWatched(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	snaps := newCollector[[]models.Message]()
	sub, err := s.WatchMessages(ctx, "a_b", snaps.add, nil)
	require.NoError(t, err)
	defer sub.Close()

	assert.Empty(t, snaps.next(t))

	first, err := s.AddMessage(ctx, "a_b", models.NewMessage{Text: "one", SenderID: "a"})
	require.NoError(t, err)
	assert.Len(t, snaps.next(t), 1)

	clock.Advance(time.Second)
	_, err = s.AddMessage(ctx, "a_b", models.NewMessage{
		Text:     "two",
		SenderID: "b",
		ReplyTo:  &models.ReplyRef{MessageID: first.ID, Text: "one", SenderID: "a"},
	})
	require.NoError(t, err)
	got := snaps.next(t)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, "two", got[1].Text)
	assert.Equal(t, first.ID, got[1].ReplyTo.MessageID)

	// Other conversations do not wake this watcher.
	_, err = s.AddMessage(ctx, "a_c", models.NewMessage{Text: "elsewhere", SenderID: "a"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessage(ctx, "a_b", first.ID))
	got = snaps.next(t)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Text)
	assert.Equal(t, "one", got[0].ReplyTo.Text)
}

func TestMemoryWatchCloseStopsDelivery(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	snaps := newCollector[[]models.Participant]()
	sub, err := s.WatchParticipants(ctx, snaps.add, nil)
	require.NoError(t, err)
	snaps.next(t)

	require.NoError(t, sub.Close())
	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "a"}, true))

	select {
	case <-snaps.ch:
		t.Fatal("snapshot delivered after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryWatcherFailure(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	boom := errors.New("permission denied")

	errs := make(chan error, 1)
	snaps := newCollector[[]models.Message]()
	sub, err := s.WatchMessages(ctx, "a_b", snaps.add, func(err error) { errs <- err })
	require.NoError(t, err)
	defer sub.Close()
	snaps.next(t)

	s.FailWatchers("a_b", boom)
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
}

func TestMemoryFailWrites(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	boom := errors.New("unavailable")

	s.FailWrites(boom)
	_, err := s.AddMessage(ctx, "a_b", models.NewMessage{Text: "x", SenderID: "a"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.WritePresence(ctx, models.Profile{ID: "a"}, true), boom)

	s.FailWrites(nil)
	_, err = s.AddMessage(ctx, "a_b", models.NewMessage{Text: "x", SenderID: "a"})
	assert.NoError(t, err)
}

func TestMemoryCodesExpire(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.SaveCode(ctx, "+14155550101", "hash", time.Minute))
	n, err := s.IncrementCodeAttempts(ctx, "+14155550101", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetCode(ctx, "+14155550101")
	require.NoError(t, err)
	assert.Equal(t, "hash", got)

	clock.Advance(time.Minute)
	_, err = s.GetCode(ctx, "+14155550101")
	assert.ErrorIs(t, err, ErrNotFound)

	// A fresh code resets the attempt counter.
	require.NoError(t, s.SaveCode(ctx, "+14155550101", "hash2", time.Minute))
	n, err = s.IncrementCodeAttempts(ctx, "+14155550101", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryRevocationAndAuthEvents(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.RevokeToken(ctx, "jti", time.Hour))
	revoked, err := s.IsTokenRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock.Advance(time.Hour)
	revoked, err = s.IsTokenRevoked(ctx, "jti")
	require.NoError(t, err)
	assert.False(t, revoked)

	var events []string
	sub, err := s.WatchAuthEvents(ctx, "acct", func(e string) { events = append(events, e) })
	require.NoError(t, err)
	require.NoError(t, s.PublishAuthEvent(ctx, "acct", "signed_out"))
	require.NoError(t, s.PublishAuthEvent(ctx, "other", "signed_out"))
	require.NoError(t, sub.Close())
	require.NoError(t, s.PublishAuthEvent(ctx, "acct", "signed_out"))
	assert.Equal(t, []string{"signed_out"}, events)
}
