package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/midlaj1055/live-chat/internal/chat"
	"github.com/midlaj1055/live-chat/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 64 << 10
)

var errSlowDown = errors.New("sending too fast")

// client is one websocket connection. It renders the session's frames and
// acts as its notification facility.
type client struct {
	conn    *websocket.Conn
	send    chan ServerFrame
	limiter *rate.Limiter
	logger  zerolog.Logger
	session *chat.Session

	mu     sync.Mutex
	closed atomic.Bool
}

func newClient(conn *websocket.Conn, limiter *rate.Limiter, logger zerolog.Logger) *client {
	return &client{
		conn:    conn,
		send:    make(chan ServerFrame, sendBufferSize),
		limiter: limiter,
		logger:  logger,
	}
}

func (c *client) Directory(state chat.LoadState, entries []chat.DirectoryEntry) {
	c.push(ServerFrame{Type: FrameDirectory, Payload: DirectoryPayload{State: state, Entries: entries}})
}

func (c *client) Peer(view chat.PeerView) {
	c.push(ServerFrame{Type: FramePeer, Payload: view})
}

func (c *client) Timeline(view chat.TimelineView) {
	c.push(ServerFrame{Type: FrameTimeline, Payload: view})
}

func (c *client) Composer(view chat.ComposerView) {
	c.push(ServerFrame{Type: FrameComposer, Payload: view})
}

// RequestPermission asks the browser; the answer comes back as a
// permission frame.
func (c *client) RequestPermission(ctx context.Context) (chat.Permission, error) {
	c.push(ServerFrame{Type: FrameRequestPermission})
	return "", nil
}

func (c *client) Notify(ctx context.Context, n chat.Notification) error {
	c.push(ServerFrame{Type: FrameNotification, Payload: n})
	return nil
}

func (c *client) pushError(forType string, err error) {
	msg := err.Error()
	if errors.Is(err, chat.ErrMessageTooLong) {
		msg = "text too long (max 4096 bytes)"
	}
	c.push(ServerFrame{Type: FrameError, Payload: ErrorPayload{For: forType, Message: msg}})
}

// push queues a frame. A full queue drops its oldest frame: every view
// frame carries complete state, so the newest one wins.
func (c *client) push(f ServerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- f:
	default:
		select {
		case <-c.send:
		default:
		}
		c.send <- f
	}
}

// close stops accepting frames. The write loop flushes what is queued,
// sends a close message and closes the connection.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return
	}
	close(c.send)
}

func (c *client) readLoop(ctx context.Context) {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("read frame")
			return
		}
		var f ClientFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.pushError("", errors.New("malformed frame"))
			continue
		}
		if err := c.dispatch(ctx, f); err != nil {
			c.pushError(f.Type, err)
		}
	}
}

func (c *client) dispatch(ctx context.Context, f ClientFrame) error {
	s := c.session
	switch f.Type {
	case FrameVisibility:
		if f.Visible == nil {
			return errors.New("visibility frame needs visible")
		}
		s.SetVisible(*f.Visible)
	case FrameSelect:
		return s.Select(ctx, f.PeerID)
	case FrameDraft:
		s.SetDraft(f.Text)
	case FrameReply:
		return s.SetReplyTarget(f.MessageID)
	case FrameCancelReply:
		s.ClearReplyTarget()
	case FrameSend:
		if !c.limiter.Allow() {
			metrics.RateLimitHits.WithLabelValues("ws_send").Inc()
			return errSlowDown
		}
		_, err := s.Send(ctx, f.Text)
		return err
	case FrameDelete:
		return s.Delete(ctx, f.MessageID)
	case FramePermission:
		s.SetPermission(f.Permission)
	case FrameUnload:
		s.Unload()
	default:
		return errors.New("unknown frame type " + f.Type)
	}
	return nil
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Debug().Err(err).Msg("write frame")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
