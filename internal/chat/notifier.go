package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
)

// Permission is the answer of the local notification facility.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Notification is a local notification. Notifications with the same Tag
// replace each other.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Tag   string `json:"tag"`
}

// NotificationSink is the client's notification facility. RequestPermission
// may return an empty Permission when the answer arrives later through
// SetPermission.
type NotificationSink interface {
	RequestPermission(ctx context.Context) (Permission, error)
	Notify(ctx context.Context, n Notification) error
}

// Notifier raises a notification for each incoming message that arrives
// while the page is hidden.
type Notifier struct {
	sink    NotificationSink
	selfID  string
	visible func() bool
	logger  zerolog.Logger

	mu         sync.Mutex
	permission Permission
	requested  bool
	key        string
	primed     bool
	seen       map[string]struct{}
}

// NewNotifier creates a notifier. visible reports whether the page is
// currently shown.
func NewNotifier(sink NotificationSink, selfID string, visible func() bool, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sink:       sink,
		selfID:     selfID,
		visible:    visible,
		logger:     logger,
		permission: PermissionDefault,
	}
}

// RequestPermission asks the sink once. Later calls return the answer
// already known.
func (n *Notifier) RequestPermission(ctx context.Context) Permission {
	n.mu.Lock()
	if n.requested || n.sink == nil {
		p := n.permission
		n.mu.Unlock()
		return p
	}
	n.requested = true
	n.mu.Unlock()

	p, err := n.sink.RequestPermission(ctx)
	if err != nil {
		n.logger.Debug().Err(err).Msg("notification permission request failed")
		return n.Permission()
	}
	if p != "" {
		n.SetPermission(p)
	}
	return n.Permission()
}

// SetPermission records a permission answer delivered by the client.
func (n *Notifier) SetPermission(p Permission) {
	n.mu.Lock()
	n.permission = p
	n.mu.Unlock()
}

// Permission returns the current permission.
func (n *Notifier) Permission() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// Observe inspects a timeline snapshot of conversation key. The first
// snapshot of a key only records what is already there; later ones notify
// for ids not seen before whose sender is someone else.
func (n *Notifier) Observe(ctx context.Context, key string, peer DirectoryEntry, msgs []models.Message) {
	n.mu.Lock()
	if key != n.key {
		n.key = key
		n.primed = false
		n.seen = nil
	}
	var fresh []models.Message
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
		if _, ok := n.seen[m.ID]; ok {
			continue
		}
		if n.primed && m.SenderID != n.selfID {
			fresh = append(fresh, m)
		}
	}
	n.seen = seen
	n.primed = true
	allowed := n.permission == PermissionGranted
	n.mu.Unlock()

	if len(fresh) == 0 || !allowed || n.sink == nil {
		return
	}
	if n.visible != nil && n.visible() {
		return
	}
	for _, m := range fresh {
		err := n.sink.Notify(ctx, Notification{
			Title: peer.DisplayName,
			Body:  m.Text,
			Icon:  peer.PhotoURL,
			Tag:   key,
		})
		if err != nil {
			n.logger.Debug().Err(err).Str("key", key).Msg("notification failed")
			continue
		}
		metrics.NotificationsRaised.Inc()
	}
}
