package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

// PeerView is the header of the selected conversation.
type PeerView struct {
	ID    string          `json:"id"`
	State LoadState       `json:"state"`
	Entry *DirectoryEntry `json:"entry,omitempty"`
}

// PeerWatch follows the live record of the selected peer. Opening a new
// peer discards callbacks still in flight for the previous one.
type PeerWatch struct {
	store    store.LiveStore
	loc      *time.Location
	now      Clock
	logger   zerolog.Logger
	onChange func(PeerView)

	mu   sync.Mutex
	gen  uint64
	sub  store.Subscription
	view PeerView

	emitMu sync.Mutex
}

// NewPeerWatch creates a watch with no peer selected.
func NewPeerWatch(s store.LiveStore, loc *time.Location, now Clock, logger zerolog.Logger, onChange func(PeerView)) *PeerWatch {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &PeerWatch{store: s, loc: loc, now: now, logger: logger, onChange: onChange}
}

// Open switches to peerID.
func (w *PeerWatch) Open(ctx context.Context, peerID string) error {
	w.mu.Lock()
	w.gen++
	gen := w.gen
	old := w.sub
	w.sub = nil
	w.view = PeerView{ID: peerID, State: StateLoading}
	w.mu.Unlock()

	w.release(old)
	w.emit(gen)

	sub, err := w.store.WatchParticipant(ctx, peerID,
		func(p *models.Participant) { w.onSnapshot(gen, p) },
		func(err error) { w.onError(gen, err) },
	)
	if err != nil {
		w.onError(gen, err)
		return err
	}
	metrics.ActiveSubscriptions.WithLabelValues("peer").Inc()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		w.release(sub)
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// Close releases the current subscription.
func (w *PeerWatch) Close() {
	w.mu.Lock()
	w.gen++
	old := w.sub
	w.sub = nil
	w.view = PeerView{}
	w.mu.Unlock()
	w.release(old)
}

// View returns the current peer header.
func (w *PeerWatch) View() PeerView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

func (w *PeerWatch) release(sub store.Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
	metrics.ActiveSubscriptions.WithLabelValues("peer").Dec()
}

func (w *PeerWatch) onSnapshot(gen uint64, p *models.Participant) {
	entry := EntryFor(*p, w.now(), w.loc)
	w.mu.Lock()
	if w.gen != gen || w.view.State == StateFailed {
		w.mu.Unlock()
		return
	}
	w.view.State = StateReady
	w.view.Entry = &entry
	w.mu.Unlock()
	w.emit(gen)
}

func (w *PeerWatch) onError(gen uint64, err error) {
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.view.State = StateFailed
	peer := w.view.ID
	w.mu.Unlock()

	metrics.SubscriptionErrors.WithLabelValues("peer").Inc()
	w.logger.Error().Err(err).Str("peer", peer).Msg("peer subscription failed")
	w.emit(gen)
}

func (w *PeerWatch) emit(gen uint64) {
	if w.onChange == nil {
		return
	}
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	view := w.view
	w.mu.Unlock()
	w.onChange(view)
}
