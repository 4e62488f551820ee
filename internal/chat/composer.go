package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

// MaxMessageLength bounds a message body in bytes, after cleaning.
const MaxMessageLength = 4096

// ErrMessageTooLong is returned for text over MaxMessageLength.
var ErrMessageTooLong = errors.New("chat: message too long (max 4096 bytes)")

// CleanText removes control characters other than newline and tab, then
// trims surrounding whitespace.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

// ComposerView is the input area state.
type ComposerView struct {
	Draft   string           `json:"draft"`
	ReplyTo *models.ReplyRef `json:"replyTo,omitempty"`
	Sending bool             `json:"sending"`
	Err     string           `json:"error,omitempty"`
}

// Composer holds the draft and reply target of the local participant.
type Composer struct {
	store    store.LiveStore
	selfID   string
	logger   zerolog.Logger
	onChange func(ComposerView)

	mu      sync.Mutex
	draft   string
	reply   *models.ReplyRef
	sending int
	err     string
	// version increments on every draft or reply change so an
	// acknowledgement only clears what it actually sent.
	version uint64
}

// NewComposer creates an empty composer.
func NewComposer(s store.LiveStore, selfID string, logger zerolog.Logger, onChange func(ComposerView)) *Composer {
	return &Composer{store: s, selfID: selfID, logger: logger, onChange: onChange}
}

// SetDraft replaces the draft text.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.err = ""
	c.version++
	c.mu.Unlock()
	c.emit()
}

// Draft returns the draft text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetReplyTarget copies the target's id, text and sender. Later changes to
// the target are not reflected.
func (c *Composer) SetReplyTarget(target models.Message) {
	c.mu.Lock()
	c.reply = &models.ReplyRef{
		MessageID: target.ID,
		Text:      target.Text,
		SenderID:  target.SenderID,
	}
	c.version++
	c.mu.Unlock()
	c.emit()
}

// ReplyTarget returns a copy of the reply target, or nil.
func (c *Composer) ReplyTarget() *models.ReplyRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyRef(c.reply)
}

// ClearReplyTarget drops the reply target.
func (c *Composer) ClearReplyTarget() {
	c.mu.Lock()
	if c.reply == nil {
		c.mu.Unlock()
		return
	}
	c.reply = nil
	c.version++
	c.mu.Unlock()
	c.emit()
}

// View returns the composer state.
func (c *Composer) View() ComposerView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Composer) viewLocked() ComposerView {
	return ComposerView{
		Draft:   c.draft,
		ReplyTo: copyRef(c.reply),
		Sending: c.sending > 0,
		Err:     c.err,
	}
}

// Submit sends the draft to conversation key. A blank draft is not sent and
// returns (nil, nil). Draft and reply target are cleared only once the store
// acknowledged the write; on failure the draft stays for a manual retry.
func (c *Composer) Submit(ctx context.Context, key string) (*models.Message, error) {
	if key == "" {
		return nil, ErrNoConversation
	}
	c.mu.Lock()
	text := c.draft
	if CleanText(text) == "" {
		c.mu.Unlock()
		return nil, nil
	}
	in := models.NewMessage{Text: text, SenderID: c.selfID, ReplyTo: copyRef(c.reply)}
	version := c.version
	c.sending++
	c.err = ""
	c.mu.Unlock()
	c.emit()

	msg, err := SendMessage(ctx, c.store, key, in)

	c.mu.Lock()
	c.sending--
	if err != nil {
		c.err = err.Error()
	} else if c.version == version {
		c.draft = ""
		c.reply = nil
		c.version++
	}
	c.mu.Unlock()
	c.emit()

	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("send failed, draft kept")
		return nil, err
	}
	return msg, nil
}

// SendMessage cleans in.Text and appends it to conversation key. Text that
// is blank once cleaned is rejected with (nil, nil) and nothing is written.
func SendMessage(ctx context.Context, s store.LiveStore, key string, in models.NewMessage) (*models.Message, error) {
	in.Text = CleanText(in.Text)
	if in.Text == "" {
		return nil, nil
	}
	if len(in.Text) > MaxMessageLength {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return nil, ErrMessageTooLong
	}
	msg, err := s.AddMessage(ctx, key, in)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues("ok").Inc()
	return msg, nil
}

func (c *Composer) emit() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.View())
}

func copyRef(r *models.ReplyRef) *models.ReplyRef {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
