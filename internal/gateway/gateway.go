// Package gateway runs a chat session for each websocket connection and
// streams its render frames to the browser.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/midlaj1055/live-chat/internal/chat"
	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/metrics"
	"github.com/midlaj1055/live-chat/internal/store"
)

const closeTimeout = 5 * time.Second

// AuthWatcher reports login state changes of an account.
type AuthWatcher interface {
	WatchAuthState(ctx context.Context, accountID string, fn func(event string)) (store.Subscription, error)
}

// Config configures a Gateway.
type Config struct {
	Store            store.LiveStore
	Auth             AuthWatcher
	Location         *time.Location
	DefaultAvatarURL string
	// SendRate and SendBurst throttle send frames per connection.
	SendRate  rate.Limit
	SendBurst int
	// AllowedOrigins restricts the Origin header; empty allows any.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Gateway upgrades authenticated requests to websocket chat sessions.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// New creates a Gateway.
func New(cfg Config) *Gateway {
	if cfg.SendRate == 0 {
		cfg.SendRate = 5
	}
	if cfg.SendBurst == 0 {
		cfg.SendBurst = 10
	}
	g := &Gateway{cfg: cfg}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws. The request must carry an authenticated
// account in its context.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFrom(r.Context())
	if acct == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.cfg.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := g.cfg.Logger.With().Str("participant", acct.ID.String()).Logger()
	c := newClient(conn, rate.NewLimiter(g.cfg.SendRate, g.cfg.SendBurst), logger)
	c.session = chat.NewSession(chat.SessionConfig{
		Profile:          acct.Profile(),
		Store:            g.cfg.Store,
		Renderer:         c,
		Notifications:    c,
		Location:         g.cfg.Location,
		DefaultAvatarURL: g.cfg.DefaultAvatarURL,
		Logger:           logger,
	})

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writeLoop()

	if g.cfg.Auth != nil {
		sub, err := g.cfg.Auth.WatchAuthState(ctx, acct.ID.String(), func(event string) {
			if event == identity.EventSignedOut {
				c.push(ServerFrame{Type: FrameSignedOut})
				c.close()
			}
		})
		if err != nil {
			logger.Warn().Err(err).Msg("auth state watch failed")
		} else {
			defer sub.Close()
		}
	}

	if err := c.session.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("session start failed")
		c.pushError("", err)
	}
	logger.Info().Msg("session opened")

	c.readLoop(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := c.session.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("session close timed out")
	}
	logger.Info().Msg("session closed")
}
