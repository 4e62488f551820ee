package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

// ErrInvalidParticipant is returned for an id that cannot be part of a
// conversation key.
var ErrInvalidParticipant = errors.New("chat: invalid participant id")

// LoadState is the lifecycle of a live view.
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateReady
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MarshalText renders the state as its name in JSON frames.
func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *LoadState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "loading":
		*s = StateLoading
	case "ready":
		*s = StateReady
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("chat: unknown load state %q", b)
	}
	return nil
}

// DirectoryEntry is a participant as the directory displays it.
type DirectoryEntry struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	PhotoURL    string     `json:"photoURL"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	Status      string     `json:"status"`
}

// EntryFor projects one participant record.
func EntryFor(p models.Participant, now time.Time, loc *time.Location) DirectoryEntry {
	return DirectoryEntry{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Online:      p.Online,
		LastSeen:    p.LastSeen,
		Status:      ParticipantStatus(p, now, loc),
	}
}

// ProjectDirectory drops selfID and projects everyone else, ordered by
// display name and then id.
func ProjectDirectory(ps []models.Participant, selfID string, now time.Time, loc *time.Location) []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(ps))
	for _, p := range ps {
		if p.ID == selfID {
			continue
		}
		out = append(out, EntryFor(p, now, loc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DirectoryView keeps the list of other participants live.
type DirectoryView struct {
	store    store.LiveStore
	selfID   string
	loc      *time.Location
	now      Clock
	logger   zerolog.Logger
	onChange func(state LoadState, entries []DirectoryEntry)

	mu      sync.Mutex
	sub     store.Subscription
	state   LoadState
	entries []DirectoryEntry
	emitMu  sync.Mutex
}

// NewDirectoryView creates an idle view. onChange, if set, receives every
// state change and re-derived list.
func NewDirectoryView(s store.LiveStore, selfID string, loc *time.Location, now Clock, logger zerolog.Logger, onChange func(LoadState, []DirectoryEntry)) *DirectoryView {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &DirectoryView{
		store:    s,
		selfID:   selfID,
		loc:      loc,
		now:      now,
		logger:   logger,
		onChange: onChange,
	}
}

// Start subscribes to the participant directory. Starting twice is a no-op.
func (d *DirectoryView) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.sub != nil || d.state == StateFailed {
		d.mu.Unlock()
		return nil
	}
	d.state = StateLoading
	d.mu.Unlock()
	d.emit()

	sub, err := d.store.WatchParticipants(ctx, d.onSnapshot, d.onError)
	if err != nil {
		d.onError(err)
		return err
	}
	metrics.ActiveSubscriptions.WithLabelValues("directory").Inc()

	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
	return nil
}

// Stop releases the subscription.
func (d *DirectoryView) Stop() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	if sub != nil {
		sub.Close()
		metrics.ActiveSubscriptions.WithLabelValues("directory").Dec()
	}
}

// Entries returns the current list.
func (d *DirectoryView) Entries() []DirectoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DirectoryEntry(nil), d.entries...)
}

// State returns the view's load state.
func (d *DirectoryView) State() LoadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Lookup finds a participant in the current list.
func (d *DirectoryView) Lookup(id string) (DirectoryEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.ID == id {
			return e, true
		}
	}
	return DirectoryEntry{}, false
}

// Select resolves the conversation key for a participant picked from the
// list. Picking oneself, or an id that could not be split back out of a
// key, is rejected.
func (d *DirectoryView) Select(id string) (string, error) {
	if id == "" {
		return "", ErrNoConversation
	}
	if strings.Contains(id, KeySeparator) {
		return "", ErrInvalidParticipant
	}
	if id == d.selfID {
		return "", ErrSelfConversation
	}
	return ConversationKey(d.selfID, id), nil
}

func (d *DirectoryView) onSnapshot(ps []models.Participant) {
	entries := ProjectDirectory(ps, d.selfID, d.now(), d.loc)
	d.mu.Lock()
	if d.state == StateFailed {
		d.mu.Unlock()
		return
	}
	d.state = StateReady
	d.entries = entries
	d.mu.Unlock()
	d.emit()
}

func (d *DirectoryView) onError(err error) {
	metrics.SubscriptionErrors.WithLabelValues("directory").Inc()
	d.logger.Error().Err(err).Msg("directory subscription failed")
	d.mu.Lock()
	d.state = StateFailed
	d.mu.Unlock()
	d.emit()
}

func (d *DirectoryView) emit() {
	if d.onChange == nil {
		return
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.mu.Lock()
	state := d.state
	entries := append([]DirectoryEntry(nil), d.entries...)
	d.mu.Unlock()
	d.onChange(state, entries)
}
