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

func TestPeerWatchSwitchesPeers(t *testing.T) {
	ms := store.NewMemoryStore(fixedNow)
	ctx := context.Background()
	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}, true))
	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "carol", DisplayName: "Carol"}, false))

	w := NewPeerWatch(ms, testLoc, fixedNow, zerolog.Nop(), nil)
	defer w.Close()

	require.NoError(t, w.Open(ctx, "bob"))
	assert.Eventually(t, func() bool { return w.View().State == StateReady }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Active now", w.View().Entry.Status)

	require.NoError(t, w.Open(ctx, "carol"))
	assert.Eventually(t, func() bool { return w.View().State == StateReady }, time.Second, 5*time.Millisecond)
	v := w.View()
	assert.Equal(t, "carol", v.ID)
	assert.Equal(t, "Carol", v.Entry.DisplayName)

	// Changes to the previous peer no longer reach the header.
	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "bob", DisplayName: "Bob"}, false))
	require.NoError(t, ms.WritePresence(ctx, models.Profile{ID: "carol", DisplayName: "Carol"}, true))
	assert.Eventually(t, func() bool { return w.View().Entry.Online }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "carol", w.View().Entry.ID)
}

func TestPeerWatchFailure(t *testing.T) {
	h := &failingPeerStore{MemoryStore: store.NewMemoryStore(fixedNow)}
	w := NewPeerWatch(h, testLoc, fixedNow, zerolog.Nop(), nil)

	err := w.Open(context.Background(), "bob")
	require.Error(t, err)
	assert.Equal(t, StateFailed, w.View().State)

	w.Close()
	assert.Equal(t, PeerView{}, w.View())
}

// failingPeerStore refuses to watch the participant named by fail, or
// every participant when fail is empty.
type failingPeerStore struct {
	*store.MemoryStore
	fail string
}

func (f *failingPeerStore) WatchParticipant(ctx context.Context, id string, onSnapshot store.SnapshotFunc[*models.Participant], onError store.ErrorFunc) (store.Subscription, error) {
	if f.fail == "" || f.fail == id {
		return nil, errors.New("permission denied")
	}
	return f.MemoryStore.WatchParticipant(ctx, id, onSnapshot, onError)
}
