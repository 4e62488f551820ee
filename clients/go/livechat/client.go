// Package livechat provides a client for the live-chat REST API.
package livechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ErrNotSignedIn is returned by calls that need a session when none is loaded.
var ErrNotSignedIn = errors.New("livechat: not signed in")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("live-chat error %d: %s", e.Status, e.Message)
}

// Client is a live-chat API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	AccountID  string
	HTTPClient *http.Client
}

// Session is the signed-in state kept on disk.
type Session struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewClient creates a client and loads a saved session if there is one.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("LIVE_CHAT_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".live-chat")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadSession()
	return c
}

// LoadSession reads the saved session from disk.
func (c *Client) LoadSession() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	c.Token = s.Token
	c.AccountID = s.AccountID
	return nil
}

// SaveSession writes the session to disk, readable by the owner only.
func (c *Client) SaveSession(s Session) error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(s, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// ClearSession forgets the session locally.
func (c *Client) ClearSession() error {
	c.Token = ""
	c.AccountID = ""
	err := os.Remove(filepath.Join(c.ConfigDir, "session.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// do performs a request and decodes a JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.Token == "" {
			return ErrNotSignedIn
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Account is a signed-in user.
type Account struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// SignInResponse is the answer to a redeemed code.
type SignInResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Account   Account   `json:"account"`
}

// StartPhoneSignIn asks the server to text a one-time code to phone.
func (c *Client) StartPhoneSignIn(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, "/auth/phone/start", map[string]string{"phone": phone}, nil, false)
}

// VerifyPhoneSignIn redeems the code and saves the session.
func (c *Client) VerifyPhoneSignIn(ctx context.Context, phone, code string) (*SignInResponse, error) {
	var resp SignInResponse
	err := c.do(ctx, http.MethodPost, "/auth/phone/verify", map[string]string{"phone": phone, "code": code}, &resp, false)
	if err != nil {
		return nil, err
	}

	c.Token = resp.Token
	c.AccountID = resp.Account.ID
	if c.ConfigDir != "" {
		if err := c.SaveSession(Session{Token: resp.Token, AccountID: resp.Account.ID, ExpiresAt: resp.ExpiresAt}); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

// Logout revokes the session on the server and forgets it locally.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true); err != nil {
		return err
	}
	return c.ClearSession()
}

// Participant is a directory entry.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	PhotoURL    string     `json:"photoURL"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	Status      string     `json:"status"`
}

// MeResponse is the caller's account and directory record.
type MeResponse struct {
	Account     Account      `json:"account"`
	Participant *Participant `json:"participant,omitempty"`
}

// Me returns the signed-in account.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Directory lists every other participant.
func (c *Client) Directory(ctx context.Context) ([]Participant, error) {
	var resp struct {
		Participants []Participant `json:"participants"`
	}
	if err := c.do(ctx, http.MethodGet, "/directory", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

// Who looks up one participant.
func (c *Client) Who(ctx context.Context, id string) (*Participant, error) {
	var resp Participant
	if err := c.do(ctx, http.MethodGet, "/who/"+url.PathEscape(id), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPresence publishes the caller's online flag.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPost, "/presence", map[string]bool{"online": online}, nil, true)
}

// ReplyRef is the copy of a replied-to message.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
}

// Message is one conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
}

// TimelineItem is a day divider or a message.
type TimelineItem struct {
	Kind      string   `json:"kind"` // "divider" or "message"
	Label     string   `json:"label,omitempty"`
	Message   *Message `json:"message,omitempty"`
	Direction string   `json:"direction,omitempty"`
	Time      string   `json:"time,omitempty"`
	CanDelete bool     `json:"canDelete,omitempty"`
}

// Timeline is a conversation grouped by day.
type Timeline struct {
	Key   string         `json:"key"`
	Items []TimelineItem `json:"items"`
}

func messagesPath(peer string) string {
	return "/conversations/" + url.PathEscape(peer) + "/messages"
}

// Timeline reads the conversation with peer.
func (c *Client) Timeline(ctx context.Context, peer string) (*Timeline, error) {
	var resp Timeline
	if err := c.do(ctx, http.MethodGet, messagesPath(peer), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send posts text to the conversation with peer, optionally replying to
// the message replyTo.
func (c *Client) Send(ctx context.Context, peer, text, replyTo string) (*Message, error) {
	req := struct {
		Text    string `json:"text"`
		ReplyTo string `json:"replyTo,omitempty"`
	}{text, replyTo}

	var resp Message
	if err := c.do(ctx, http.MethodPost, messagesPath(peer), req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes one of the caller's messages.
func (c *Client) Delete(ctx context.Context, peer, id string) error {
	return c.do(ctx, http.MethodDelete, messagesPath(peer)+"/"+url.PathEscape(id), nil, nil, true)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats is the public landing page summary.
type Stats struct {
	TotalAccounts     int64  `json:"total_accounts"`
	TotalParticipants int64  `json:"total_participants"`
	Online            int64  `json:"online"`
	LastActivity      string `json:"last_activity"`
}

// Stats reads the public counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
