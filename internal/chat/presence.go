package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
)

// Profile defaults for a participant record created on first presence write.
const (
	DefaultDisplayName = "User"
	DefaultAvatarURL   = "https://i.imgur.com/6VBx3io.png"
)

const presenceWriteTimeout = 5 * time.Second

// PresenceState is the local participant's published presence.
type PresenceState int

const (
	PresenceUnknown PresenceState = iota
	PresenceOnline
	PresenceOffline
)

func (s PresenceState) String() string {
	switch s {
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// PresenceWriter is the part of the store the tracker writes to.
type PresenceWriter interface {
	WritePresence(ctx context.Context, profile models.Profile, online bool) error
}

// WithProfileDefaults fills a missing display name and avatar.
func WithProfileDefaults(p models.Profile, avatarURL string) models.Profile {
	if p.DisplayName == "" {
		p.DisplayName = DefaultDisplayName
	}
	if p.PhotoURL == "" {
		p.PhotoURL = avatarURL
	}
	if p.PhotoURL == "" {
		p.PhotoURL = DefaultAvatarURL
	}
	return p
}

// WritePresence publishes one presence value and records the outcome.
func WritePresence(ctx context.Context, w PresenceWriter, profile models.Profile, online bool) error {
	state := PresenceOffline
	if online {
		state = PresenceOnline
	}
	if err := w.WritePresence(ctx, profile, online); err != nil {
		metrics.PresenceWrites.WithLabelValues(state.String(), "error").Inc()
		return err
	}
	metrics.PresenceWrites.WithLabelValues(state.String(), "ok").Inc()
	return nil
}

// Tracker publishes the local participant's presence on lifecycle
// transitions. Transitions never block: writes are queued and issued in
// order by a single goroutine, and failures are logged, not retried.
type Tracker struct {
	store   PresenceWriter
	profile models.Profile
	logger  zerolog.Logger

	mu      sync.Mutex
	state   PresenceState
	visible bool
	closed  bool
	pending []bool
	wake    chan struct{}
	done    chan struct{}
}

// NewTracker starts a tracker for profile. Call Close to stop it.
func NewTracker(store PresenceWriter, profile models.Profile, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		store:   store,
		profile: profile,
		logger:  logger.With().Str("participant", profile.ID).Logger(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Mount marks the participant online. It always writes, so the directory
// record exists once a session has started.
func (t *Tracker) Mount() {
	t.transition(true, true, true)
}

// SetVisible follows page visibility: visible is online, hidden is offline.
func (t *Tracker) SetVisible(visible bool) {
	t.transition(visible, visible, false)
}

// Unload marks the participant offline. The write is best effort.
func (t *Tracker) Unload() {
	t.transition(false, false, false)
}

// State returns the last state handed to the writer.
func (t *Tracker) State() PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Visible reports whether the page was last reported visible.
func (t *Tracker) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

func (t *Tracker) transition(online, visible, force bool) {
	target := PresenceOffline
	if online {
		target = PresenceOnline
	}

	t.mu.Lock()
	t.visible = visible
	if t.closed || (!force && t.state == target) {
		t.mu.Unlock()
		return
	}
	t.state = target
	t.pending = append(t.pending, online)
	// Close shuts wake under mu, so the send must happen under it too.
	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.mu.Unlock()
}

// Close stops accepting transitions and waits until queued writes are
// issued or ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.wake)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		_, ok := <-t.wake
		t.flush()
		if !ok {
			return
		}
	}
}

func (t *Tracker) flush() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		online := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		err := WritePresence(ctx, t.store, t.profile, online)
		cancel()
		if err != nil {
			t.logger.Warn().Err(err).Bool("online", online).Msg("presence write failed")
		}
	}
}
