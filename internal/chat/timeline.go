package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

var (
	ErrNoConversation  = errors.New("chat: no conversation selected")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrNotAuthor       = errors.New("chat: only the sender may delete a message")
)

// Direction says who sent a message relative to the local participant.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// ItemKind distinguishes date dividers from messages in a grouped timeline.
type ItemKind string

const (
	ItemDivider ItemKind = "divider"
	ItemMessage ItemKind = "message"
)

// TimelineItem is one row of a rendered timeline.
type TimelineItem struct {
	Kind      ItemKind        `json:"kind"`
	Label     string          `json:"label,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	Direction Direction       `json:"direction,omitempty"`
	Time      string          `json:"time,omitempty"`
	CanDelete bool            `json:"canDelete,omitempty"`
}

// GroupTimeline interleaves date dividers into an ordered message log. A
// divider is emitted whenever a message's label differs from the previous
// label, including before the first message. Messages still waiting for
// their server timestamp get no label and leave the previous one in force.
func GroupTimeline(msgs []models.Message, selfID string, now time.Time, loc *time.Location) []TimelineItem {
	items := make([]TimelineItem, 0, len(msgs)+1)
	last := ""
	for i := range msgs {
		m := &msgs[i]
		if label := DayLabel(m.CreatedAt, now, loc); label != "" && label != last {
			items = append(items, TimelineItem{Kind: ItemDivider, Label: label})
			last = label
		}
		item := TimelineItem{Kind: ItemMessage, Message: m, Direction: Incoming}
		if m.SenderID == selfID {
			item.Direction = Outgoing
			item.CanDelete = true
		}
		if !m.CreatedAt.IsZero() {
			item.Time = FormatClock(m.CreatedAt, loc)
		}
		items = append(items, item)
	}
	return items
}

// TimelineView is the rendered state of the open conversation.
type TimelineView struct {
	Key      string           `json:"key"`
	State    LoadState        `json:"state"`
	Err      string           `json:"error,omitempty"`
	Messages []models.Message `json:"-"`
	Items    []TimelineItem   `json:"items"`
}

// Reconciler keeps the message log of one conversation at a time. Every
// snapshot replaces the log. Each subscription is tagged with a generation;
// callbacks from an older generation are dropped, so a late snapshot of a
// conversation the user has left never reaches the renderer.
type Reconciler struct {
	store    store.LiveStore
	selfID   string
	loc      *time.Location
	now      Clock
	logger   zerolog.Logger
	onChange func(TimelineView)

	mu   sync.Mutex
	gen  uint64
	sub  store.Subscription
	view TimelineView

	emitMu sync.Mutex
}

// NewReconciler creates a reconciler with no conversation open.
func NewReconciler(s store.LiveStore, selfID string, loc *time.Location, now Clock, logger zerolog.Logger, onChange func(TimelineView)) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:    s,
		selfID:   selfID,
		loc:      loc,
		now:      now,
		logger:   logger,
		onChange: onChange,
	}
}

// Open switches to the conversation key. The previous subscription is
// released and the view resets to loading before the new one is made.
func (r *Reconciler) Open(ctx context.Context, key string) error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	old := r.sub
	r.sub = nil
	r.view = TimelineView{Key: key, State: StateLoading}
	r.mu.Unlock()

	r.release(old)
	r.emit(gen)

	sub, err := r.store.WatchMessages(ctx, key,
		func(msgs []models.Message) { r.onSnapshot(gen, msgs) },
		func(err error) { r.onError(gen, err) },
	)
	if err != nil {
		r.onError(gen, err)
		return err
	}
	metrics.ActiveSubscriptions.WithLabelValues("timeline").Inc()

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		r.release(sub)
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Close releases the subscription and forgets the conversation.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.gen++
	old := r.sub
	r.sub = nil
	r.view = TimelineView{}
	r.mu.Unlock()
	r.release(old)
}

// View returns the current timeline.
func (r *Reconciler) View() TimelineView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Key returns the open conversation key, or "".
func (r *Reconciler) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Key
}

// Message looks up a message in the current log.
func (r *Reconciler) Message(id string) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.view.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Delete removes one of the local participant's messages from the open
// conversation.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	key := r.view.Key
	r.mu.Unlock()
	if key == "" {
		return ErrNoConversation
	}
	msg, ok := r.Message(id)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.SenderID != r.selfID {
		return ErrNotAuthor
	}
	return deleteMessage(ctx, r.store, key, id)
}

// DeleteOwnMessage deletes message id from conversation key on behalf of
// selfID, reading the conversation to check authorship.
func DeleteOwnMessage(ctx context.Context, s store.LiveStore, key, selfID, id string) error {
	if !HasParticipant(key, selfID) {
		return ErrNoConversation
	}
	msgs, err := s.ListMessages(ctx, key)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.ID != id {
			continue
		}
		if m.SenderID != selfID {
			return ErrNotAuthor
		}
		return deleteMessage(ctx, s, key, id)
	}
	return ErrMessageNotFound
}

func deleteMessage(ctx context.Context, s store.LiveStore, key, id string) error {
	if err := s.DeleteMessage(ctx, key, id); err != nil {
		metrics.MessagesDeleted.WithLabelValues("error").Inc()
		return err
	}
	metrics.MessagesDeleted.WithLabelValues("ok").Inc()
	return nil
}

func (r *Reconciler) release(sub store.Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
	metrics.ActiveSubscriptions.WithLabelValues("timeline").Dec()
}

func (r *Reconciler) onSnapshot(gen uint64, msgs []models.Message) {
	items := GroupTimeline(msgs, r.selfID, r.now(), r.loc)
	r.mu.Lock()
	if r.gen != gen || r.view.State == StateFailed {
		r.mu.Unlock()
		return
	}
	r.view.State = StateReady
	r.view.Messages = msgs
	r.view.Items = items
	r.mu.Unlock()
	r.emit(gen)
}

func (r *Reconciler) onError(gen uint64, err error) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.view.State = StateFailed
	r.view.Err = err.Error()
	key := r.view.Key
	r.mu.Unlock()

	metrics.SubscriptionErrors.WithLabelValues("timeline").Inc()
	r.logger.Error().Err(err).Str("key", key).Msg("timeline subscription failed")
	r.emit(gen)
}

// emit hands the current view to onChange. Emits are serialized, and one
// whose generation has been superseded while waiting is dropped.
func (r *Reconciler) emit(gen uint64) {
	if r.onChange == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	view := r.view
	r.mu.Unlock()
	r.onChange(view)
}
