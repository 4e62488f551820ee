package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midlaj1055/live-chat/internal/models"
)

var redisNow = time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(redisNow)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return mr, s
}

// snapshots records every delivery of a watch.
type snapshots[T any] struct {
	mu  sync.Mutex
	got []T
}

func (s *snapshots[T]) add(v T) {
	s.mu.Lock()
	s.got = append(s.got, v)
	s.mu.Unlock()
}

func (s *snapshots[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *snapshots[T]) last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if len(s.got) == 0 {
		return zero, false
	}
	return s.got[len(s.got)-1], true
}

func TestRedisPresenceKeepsProfileFields(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob", PhotoURL: "https://a/bob.png"}, true))
	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Robert"}, false))

	p, err := s.GetParticipant(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Bob", p.DisplayName, "profile fields are written once")
	assert.Equal(t, "https://a/bob.png", p.PhotoURL)
	assert.False(t, p.Online)
	require.NotNil(t, p.LastSeen)
	assert.True(t, p.LastSeen.Equal(redisNow))

	missing, err := s.GetParticipant(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "ada", DisplayName: "Ada"}, true))
	all, err := s.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ada", all[0].ID)
	assert.Equal(t, "bob", all[1].ID)
}

func TestRedisMessagesSameMillisecondKeepOrder(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AddMessage(ctx, "a_b", models.NewMessage{Text: text, SenderID: "a"})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, "a_b")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	for _, m := range msgs {
		assert.True(t, m.CreatedAt.Equal(redisNow), "stamped with the server clock")
	}

	other, err := s.ListMessages(ctx, "a_c")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRedisWatchMessages(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	var seen snapshots[[]models.Message]
	sub, err := s.WatchMessages(ctx, "a_b", seen.add, func(err error) { t.Errorf("unexpected watch error: %v", err) })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, ok := seen.last()
		return ok && len(msgs) == 0
	}, time.Second, 5*time.Millisecond, "initial snapshot")

	reply := &models.ReplyRef{MessageID: "x", Text: "earlier", SenderID: "b"}
	msg, err := s.AddMessage(ctx, "a_b", models.NewMessage{Text: "hello", SenderID: "a", ReplyTo: reply})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := seen.last()
		return len(msgs) == 1 && msgs[0].ID == msg.ID
	}, time.Second, 5*time.Millisecond, "snapshot after write")
	msgs, _ := seen.last()
	assert.Equal(t, reply, msgs[0].ReplyTo)

	require.NoError(t, s.DeleteMessage(ctx, "a_b", msg.ID))
	require.Eventually(t, func() bool {
		msgs, _ := seen.last()
		return len(msgs) == 0
	}, time.Second, 5*time.Millisecond, "delete removes the message")

	require.NoError(t, s.DeleteMessage(ctx, "a_b", msg.ID), "deleting twice is not an error")

	require.NoError(t, sub.Close())
	before := seen.count()
	_, err = s.AddMessage(ctx, "a_b", models.NewMessage{Text: "after close", SenderID: "a"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, seen.count(), "no callbacks after Close")
}

func TestRedisWatchParticipantWaitsForRecord(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	var seen snapshots[*models.Participant]
	sub, err := s.WatchParticipant(ctx, "bob", seen.add, nil)
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, seen.count(), "nothing is delivered for a missing record")

	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}, true))
	require.Eventually(t, func() bool {
		p, ok := seen.last()
		return ok && p.Online && p.DisplayName == "Bob"
	}, time.Second, 5*time.Millisecond)

	// Other participants do not wake this watch.
	before := seen.count()
	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "ada"}, true))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, seen.count())
}

func TestRedisWatchParticipants(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	var seen snapshots[[]models.Participant]
	sub, err := s.WatchParticipants(ctx, seen.add, nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "ada"}, true))
	require.NoError(t, s.WritePresence(ctx, models.Profile{ID: "bob"}, false))
	require.Eventually(t, func() bool {
		ps, _ := seen.last()
		return len(ps) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRedisCodes(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()
	phone := "+14155550101"

	_, err := s.GetCode(ctx, phone)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveCode(ctx, phone, "hash-1", 5*time.Minute))
	hash, err := s.GetCode(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", hash)

	n, err := s.IncrementCodeAttempts(ctx, phone, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.IncrementCodeAttempts(ctx, phone, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// A new code resets the attempts.
	require.NoError(t, s.SaveCode(ctx, phone, "hash-2", 5*time.Minute))
	n, err = s.IncrementCodeAttempts(ctx, phone, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(6 * time.Minute)
	_, err = s.GetCode(ctx, phone)
	assert.ErrorIs(t, err, ErrNotFound, "codes expire")

	require.NoError(t, s.SaveCode(ctx, phone, "hash-3", 5*time.Minute))
	require.NoError(t, s.DeleteCode(ctx, phone))
	_, err = s.GetCode(ctx, phone)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(otpAttemptsKey(phone)))
}

func TestRedisRevocation(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	revoked, err := s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Hour))
	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "the entry lives only as long as the token")
}

func TestRedisAuthEvents(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	events := make(chan string, 4)
	sub, err := s.WatchAuthEvents(ctx, "acct-1", func(e string) { events <- e })
	require.NoError(t, err)

	require.NoError(t, s.PublishAuthEvent(ctx, "acct-2", "signed_out"))
	require.NoError(t, s.PublishAuthEvent(ctx, "acct-1", "signed_out"))
	select {
	case e := <-events:
		assert.Equal(t, "signed_out", e)
	case <-time.After(time.Second):
		t.Fatal("no auth event")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, s.PublishAuthEvent(ctx, "acct-1", "signed_out"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, events)
}
