package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

func TestProjectDirectory(t *testing.T) {
	seen := time.Date(2026, time.October, 14, 21, 5, 0, 0, time.UTC)
	ps := []models.Participant{
		{ID: "me", DisplayName: "Me", Online: true},
		{ID: "c", DisplayName: "Zoe", LastSeen: &seen},
		{ID: "b", DisplayName: "Amir", Online: true},
		{ID: "a", DisplayName: "Amir"},
	}

	got := ProjectDirectory(ps, "me", fixedNow(), testLoc)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, "last seen recently", got[0].Status)
	assert.Equal(t, "Active now", got[1].Status)
	assert.Equal(t, "last seen yesterday at 9:05 PM", got[2].Status)
}

func TestDirectoryViewFollowsStore(t *testing.T) {
	ms := store.NewMemoryStore(fixedNow)
	ctx := context.Background()
	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "me", DisplayName: "Me"}, true))

	v := NewDirectoryView(ms, "me", testLoc, fixedNow, zerolog.Nop(), nil)
	require.NoError(t, v.Start(ctx))
	defer v.Stop()

	assert.Eventually(t, func() bool { return v.State() == StateReady }, time.Second, 5*time.Millisecond)
	assert.Empty(t, v.Entries())

	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}, true))
	assert.Eventually(t, func() bool {
		e, ok := v.Lookup("bob")
		return ok && e.Status == "Active now"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}, false))
	assert.Eventually(t, func() bool {
		e, ok := v.Lookup("bob")
		return ok && e.Status == "last seen today at 2:30 PM"
	}, time.Second, 5*time.Millisecond)

	_, ok := v.Lookup("me")
	assert.False(t, ok, "the local participant is not listed")
}

func TestDirectoryViewFailureIsTerminal(t *testing.T) {
	ms := store.NewMemoryStore(fixedNow)
	ctx := context.Background()

	states := make(chan LoadState, 8)
	v := NewDirectoryView(ms, "me", testLoc, fixedNow, zerolog.Nop(), func(s LoadState, _ []DirectoryEntry) {
		states <- s
	})
	require.NoError(t, v.Start(ctx))
	defer v.Stop()
	assert.Eventually(t, func() bool { return v.State() == StateReady }, time.Second, 5*time.Millisecond)

	ms.FailWatchers("", errors.New("permission denied"))
	assert.Eventually(t, func() bool { return v.State() == StateFailed }, time.Second, 5*time.Millisecond)

	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "bob"}, true))
	require.NoError(t, v.Start(ctx))
	assert.Equal(t, StateFailed, v.State())
}

func TestDirectoryViewSelect(t *testing.T) {
	v := NewDirectoryView(store.NewMemoryStore(fixedNow), "me", testLoc, fixedNow, zerolog.Nop(), nil)

	key, err := v.Select("bob")
	require.NoError(t, err)
	assert.Equal(t, ConversationKey("bob", "me"), key)

	_, err = v.Select("me")
	assert.ErrorIs(t, err, ErrSelfConversation)
	_, err = v.Select("")
	assert.ErrorIs(t, err, ErrNoConversation)
	_, err = v.Select("bob_carol")
	assert.ErrorIs(t, err, ErrInvalidParticipant)
}
