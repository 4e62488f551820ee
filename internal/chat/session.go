package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

// ErrSelfConversation is returned when a participant selects themselves.
var ErrSelfConversation = errors.New("chat: cannot open a conversation with yourself")

// Renderer receives the frames a client displays. Calls for one component
// arrive in order; calls for different components may interleave.
type Renderer interface {
	Directory(state LoadState, entries []DirectoryEntry)
	Peer(view PeerView)
	Timeline(view TimelineView)
	Composer(view ComposerView)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Profile       models.Profile
	Store         store.LiveStore
	Renderer      Renderer
	Notifications NotificationSink
	Location      *time.Location
	Clock         Clock
	// DefaultAvatarURL is used when the profile has no photo.
	DefaultAvatarURL string
	Logger           zerolog.Logger
}

// Session is the chat state of one connected client.
type Session struct {
	profile  models.Profile
	store    store.LiveStore
	renderer Renderer
	logger   zerolog.Logger

	presence  *Tracker
	directory *DirectoryView
	peer      *PeerWatch
	timeline  *Reconciler
	composer  *Composer
	notifier  *Notifier

	mu     sync.Mutex
	peerID string
	closed bool
}

// NewSession builds a session; call Start to go live.
func NewSession(cfg SessionConfig) *Session {
	profile := WithProfileDefaults(cfg.Profile, cfg.DefaultAvatarURL)
	logger := cfg.Logger.With().Str("participant", profile.ID).Logger()
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = nopRenderer{}
	}

	s := &Session{
		profile:  profile,
		store:    cfg.Store,
		renderer: renderer,
		logger:   logger,
	}
	s.presence = NewTracker(cfg.Store, profile, logger)
	s.directory = NewDirectoryView(cfg.Store, profile.ID, cfg.Location, cfg.Clock, logger, renderer.Directory)
	s.peer = NewPeerWatch(cfg.Store, cfg.Location, cfg.Clock, logger, renderer.Peer)
	s.timeline = NewReconciler(cfg.Store, profile.ID, cfg.Location, cfg.Clock, logger, s.onTimeline)
	s.composer = NewComposer(cfg.Store, profile.ID, logger, renderer.Composer)
	s.notifier = NewNotifier(cfg.Notifications, profile.ID, s.presence.Visible, logger)
	return s
}

// Profile returns the local participant.
func (s *Session) Profile() models.Profile {
	return s.profile
}

// Start publishes presence, opens the directory and asks for notification
// permission.
func (s *Session) Start(ctx context.Context) error {
	s.presence.Mount()
	if err := s.directory.Start(ctx); err != nil {
		return err
	}
	go s.notifier.RequestPermission(ctx)
	return nil
}

// Select opens the conversation with peerID. The reply target is dropped;
// the draft is kept.
func (s *Session) Select(ctx context.Context, peerID string) error {
	key, err := s.directory.Select(peerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	same := s.peerID == peerID
	s.peerID = peerID
	s.mu.Unlock()
	if same && s.timeline.Key() == key {
		return nil
	}

	s.composer.ClearReplyTarget()
	err = s.timeline.Open(ctx, key)
	// A header that cannot load is shown as failed; the conversation
	// itself stays switched.
	if perr := s.peer.Open(ctx, peerID); perr != nil {
		s.logger.Warn().Err(perr).Str("peer", peerID).Msg("peer header unavailable")
	}
	return err
}

// SelectedPeer returns the peer of the open conversation, or "".
func (s *Session) SelectedPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// SetVisible reports page visibility.
func (s *Session) SetVisible(visible bool) {
	s.presence.SetVisible(visible)
}

// Unload reports that the page is going away.
func (s *Session) Unload() {
	s.presence.Unload()
}

// SetDraft replaces the composer text.
func (s *Session) SetDraft(text string) {
	s.composer.SetDraft(text)
}

// SetReplyTarget replies to message id of the open conversation.
func (s *Session) SetReplyTarget(id string) error {
	msg, ok := s.timeline.Message(id)
	if !ok {
		return ErrMessageNotFound
	}
	s.composer.SetReplyTarget(msg)
	return nil
}

// ClearReplyTarget cancels the reply.
func (s *Session) ClearReplyTarget() {
	s.composer.ClearReplyTarget()
}

// Send submits the draft to the open conversation. A non-empty text
// replaces the draft first.
func (s *Session) Send(ctx context.Context, text string) (*models.Message, error) {
	if text != "" {
		s.composer.SetDraft(text)
	}
	return s.composer.Submit(ctx, s.timeline.Key())
}

// Delete removes one of the participant's own messages. A failed delete
// leaves the message in place.
func (s *Session) Delete(ctx context.Context, id string) error {
	err := s.timeline.Delete(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", id).Msg("delete failed")
	}
	return err
}

// SetPermission records the client's notification permission.
func (s *Session) SetPermission(p Permission) {
	s.notifier.SetPermission(p)
}

// Permission returns the notification permission.
func (s *Session) Permission() Permission {
	return s.notifier.Permission()
}

// Close releases every subscription and publishes offline presence.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.directory.Stop()
	s.timeline.Close()
	s.peer.Close()
	s.presence.Unload()
	return s.presence.Close(ctx)
}

func (s *Session) onTimeline(view TimelineView) {
	s.renderer.Timeline(view)
	if view.State != StateReady {
		return
	}
	peerID := s.SelectedPeer()
	peer, ok := s.directory.Lookup(peerID)
	if pv := s.peer.View(); pv.ID == peerID && pv.Entry != nil {
		peer, ok = *pv.Entry, true
	}
	if !ok {
		peer = DirectoryEntry{ID: peerID, DisplayName: DefaultDisplayName}
	}
	s.notifier.Observe(context.Background(), view.Key, peer, view.Messages)
}

type nopRenderer struct{}

func (nopRenderer) Directory(LoadState, []DirectoryEntry) {}
func (nopRenderer) Peer(PeerView)                         {}
func (nopRenderer) Timeline(TimelineView)                 {}
func (nopRenderer) Composer(ComposerView)                 {}
