package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/midlaj1055/live-chat/internal/api/middleware"
	"github.com/midlaj1055/live-chat/internal/handlers"
	"github.com/midlaj1055/live-chat/internal/identity"
	"github.com/midlaj1055/live-chat/internal/models"
	"github.com/midlaj1055/live-chat/internal/store"
)

var testNow = time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) SendCode(ctx context.Context, phone, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[phone] = code
	return nil
}

func (b *inbox) code(phone string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[phone]
}

// steppingClock advances one second per reading so stored messages have
// distinct instants.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := testNow.Add(-time.Hour)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type testEnv struct {
	srv  *httptest.Server
	sms  *inbox
	live *store.MemoryStore
}

func newTestEnv(t *testing.T, assets http.Handler) *testEnv {
	t.Helper()
	accounts, err := store.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(accounts.Close)

	live := store.NewMemoryStore(steppingClock())
	sms := &inbox{}
	fixed := func() time.Time { return testNow }
	ident := identity.NewService(identity.Config{
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
		Now:        fixed,
	}, accounts, live, sms, zerolog.Nop())

	h := handlers.NewHandler(accounts, live, ident, handlers.Options{
		Location: time.UTC,
		Now:      fixed,
	}, zerolog.Nop())

	srv := httptest.NewServer(NewRouter(Deps{
		Handler: h,
		Auth:    ident,
		Assets:  assets,
		Logger:  zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sms: sms, live: live}
}

type user struct {
	id    string
	token string
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) signIn(t *testing.T, phone string) user {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/auth/phone/start", "", map[string]string{"phone": phone})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/auth/phone/verify", "", map[string]string{"phone": phone, "code": e.sms.code(phone)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var in identity.SignIn
	require.NoError(t, json.Unmarshal(body, &in))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, in.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	return user{id: in.Account.ID.String(), token: in.Token}
}

func TestSignInAndMe(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	alice := env.signIn(t, "+14155550101")
	resp, body := env.do(t, http.MethodGet, "/me", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me handlers.MeResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, alice.id, me.Account.ID.String())
	assert.Nil(t, me.Participant)

	resp, _ = env.do(t, http.MethodPost, "/auth/phone/verify", "", map[string]string{"phone": "+14155550101", "code": "000000"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/auth/phone/start", "", map[string]string{"phone": "555-0101"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "+14155550101")

	resp, _ := env.do(t, http.MethodPost, "/auth/logout", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/me", alice.token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPresenceAndDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "+14155550101")
	bob := env.signIn(t, "+14155550102")

	resp, body := env.do(t, http.MethodPost, "/presence", alice.token, map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = env.do(t, http.MethodPost, "/presence", bob.token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/directory", bob.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dir handlers.DirectoryResponse
	require.NoError(t, json.Unmarshal(body, &dir))
	require.Len(t, dir.Participants, 1)
	assert.Equal(t, alice.id, dir.Participants[0].ID)
	assert.Equal(t, "User", dir.Participants[0].DisplayName)
	assert.Equal(t, "Active now", dir.Participants[0].Status)

	// Alice does not see herself.
	resp, body = env.do(t, http.MethodGet, "/directory", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var own handlers.DirectoryResponse
	require.NoError(t, json.Unmarshal(body, &own))
	assert.Empty(t, own.Participants)

	resp, _ = env.do(t, http.MethodGet, "/who/"+alice.id, bob.token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/who/"+bob.id, alice.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/who/not-a-uuid", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type timelineResponse struct {
	Key   string `json:"key"`
	Items []struct {
		Kind    string `json:"kind"`
		Label   string `json:"label"`
		Message *struct {
			ID       string `json:"id"`
			Text     string `json:"text"`
			SenderID string `json:"senderId"`
			ReplyTo  *struct {
				MessageID string `json:"messageId"`
				Text      string `json:"text"`
			} `json:"replyTo"`
		} `json:"message"`
		Direction string `json:"direction"`
		CanDelete bool   `json:"canDelete"`
	} `json:"items"`
}

func TestConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "+14155550101")
	bob := env.signIn(t, "+14155550102")

	resp, body := env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": "  hi bob  "})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, "hi bob", first.Text)

	resp, body = env.do(t, http.MethodPost, "/conversations/"+alice.id+"/messages", bob.token, map[string]string{"text": "hey", "replyTo": first.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.do(t, http.MethodGet, "/conversations/"+alice.id+"/messages", bob.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tl timelineResponse
	require.NoError(t, json.Unmarshal(body, &tl))
	require.Len(t, tl.Items, 3)
	assert.Equal(t, "divider", tl.Items[0].Kind)
	assert.Equal(t, "Today", tl.Items[0].Label)
	assert.Equal(t, "incoming", tl.Items[1].Direction)
	assert.False(t, tl.Items[1].CanDelete)
	assert.Equal(t, "outgoing", tl.Items[2].Direction)
	require.NotNil(t, tl.Items[2].Message.ReplyTo)
	assert.Equal(t, "hi bob", tl.Items[2].Message.ReplyTo.Text)

	// Both sides address the same conversation.
	resp, body = env.do(t, http.MethodGet, "/conversations/"+bob.id+"/messages", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mirror timelineResponse
	require.NoError(t, json.Unmarshal(body, &mirror))
	assert.Equal(t, tl.Key, mirror.Key)

	resp, _ = env.do(t, http.MethodDelete, "/conversations/"+alice.id+"/messages/"+first.ID, bob.token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/conversations/"+bob.id+"/messages/"+first.ID, alice.token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/conversations/"+bob.id+"/messages/"+first.ID, alice.token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/conversations/"+bob.id+"/messages", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after timelineResponse
	require.NoError(t, json.Unmarshal(body, &after))
	require.Len(t, after.Items, 2)
	// The reply keeps its copy of the deleted message.
	require.NotNil(t, after.Items[1].Message.ReplyTo)
	assert.Equal(t, first.ID, after.Items[1].Message.ReplyTo.MessageID)
}

func TestConversationRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "+14155550101")
	bob := env.signIn(t, "+14155550102")

	resp, _ := env.do(t, http.MethodPost, "/conversations/"+alice.id+"/messages", alice.token, map[string]string{"text": "me"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": "re", "replyTo": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": "\x07\x1b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": strings.Repeat("x", 4097)})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/conversations/"+bob.id+"/messages", alice.token, map[string]string{"text": " hi\x07\x1b[2J\nthere "})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var msg models.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "hi[2J\nthere", msg.Text)

	resp, _ = env.do(t, http.MethodGet, "/conversations/nobody/messages", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/conversations/"+bob.id+"/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.signIn(t, "+14155550101")
	env.signIn(t, "+14155550102")
	env.do(t, http.MethodPost, "/presence", alice.token, map[string]bool{"online": true})

	resp, body := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["accounts"].Status)
	assert.Equal(t, "pass", health.Checks["live_store"].Status)

	resp, body = env.do(t, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats handlers.StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(2), stats.TotalAccounts)
	assert.Equal(t, int64(1), stats.TotalParticipants)
	assert.Equal(t, int64(1), stats.Online)
}

func TestAssetsMounted(t *testing.T) {
	assets := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cache", "HIT")
		w.Write([]byte(r.URL.Path))
	})
	env := newTestEnv(t, assets)

	resp, body := env.do(t, http.MethodGet, "/live-chat/index.html", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/live-chat/index.html", string(body))
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "connect-src 'self' ws: wss:")

	resp, _ = env.do(t, http.MethodGet, "/api", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
