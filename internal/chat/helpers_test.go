package chat

import (
	"context"
	"sync"
	"time"

	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

var testLoc = time.UTC

// fixedNow is 15 Oct 2026, 14:30 UTC.
func fixedNow() time.Time {
	return time.Date(2026, time.October, 15, 14, 30, 0, 0, time.UTC)
}

// heldStore is a MemoryStore whose message subscriptions are driven by the
// test: snapshots and errors are delivered only when the test says so.
type heldStore struct {
	*store.MemoryStore

	mu   sync.Mutex
	subs map[string][]*heldSub
}

type heldSub struct {
	onSnapshot store.SnapshotFunc[[]models.Message]
	onError    store.ErrorFunc
	closed     bool
}

func (h *heldSub) Close() error {
	h.closed = true
	return nil
}

func newHeldStore() *heldStore {
	return &heldStore{
		MemoryStore: store.NewMemoryStore(fixedNow),
		subs:        make(map[string][]*heldSub),
	}
}

func (h *heldStore) WatchMessages(ctx context.Context, key string, onSnapshot store.SnapshotFunc[[]models.Message], onError store.ErrorFunc) (store.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &heldSub{onSnapshot: onSnapshot, onError: onError}
	h.subs[key] = append(h.subs[key], sub)
	return sub, nil
}

// deliver hands msgs to the most recent subscription of key, even if it
// was closed, the way a late callback would.
func (h *heldStore) deliver(key string, msgs []models.Message) {
	h.mu.Lock()
	subs := h.subs[key]
	h.mu.Unlock()
	subs[len(subs)-1].onSnapshot(msgs)
}

func (h *heldStore) fail(key string, err error) {
	h.mu.Lock()
	subs := h.subs[key]
	h.mu.Unlock()
	subs[len(subs)-1].onError(err)
}

func (h *heldStore) sub(key string) *heldSub {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[key]
	return subs[len(subs)-1]
}

type recordingRenderer struct {
	mu        sync.Mutex
	directory [][]DirectoryEntry
	peers     []PeerView
	timelines []TimelineView
	composers []ComposerView
}

func (r *recordingRenderer) Directory(state LoadState, entries []DirectoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == StateReady {
		r.directory = append(r.directory, entries)
	}
}

func (r *recordingRenderer) Peer(v PeerView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, v)
}

func (r *recordingRenderer) Timeline(v TimelineView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timelines = append(r.timelines, v)
}

func (r *recordingRenderer) Composer(v ComposerView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composers = append(r.composers, v)
}

func (r *recordingRenderer) lastTimeline() TimelineView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timelines) == 0 {
		return TimelineView{}
	}
	return r.timelines[len(r.timelines)-1]
}

func (r *recordingRenderer) lastDirectory() []DirectoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.directory) == 0 {
		return nil
	}
	return r.directory[len(r.directory)-1]
}

type recordingSink struct {
	mu         sync.Mutex
	permission Permission
	requests   int
	sent       []Notification
}

func (s *recordingSink) RequestPermission(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return s.permission, nil
}

func (s *recordingSink) Notify(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

func msgAt(id, sender, text string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: sender, Text: text, CreatedAt: at}
}
