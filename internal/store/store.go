package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/midlaj1055/live-chat/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: not found")

// DataStore defines the interface for persistent storage of accounts.
// Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Account operations
	CreateAccount(ctx context.Context, acct *models.Account) (*models.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountBySubject(ctx context.Context, provider, subject string) (*models.Account, error)
	UpdateAccountProfile(ctx context.Context, id uuid.UUID, displayName, photoURL string) error
	CountAccounts(ctx context.Context) (int64, error)
}

// Subscription is a live query. Close releases it; no callbacks are
// delivered once Close has returned.
type Subscription interface {
	Close() error
}

// SnapshotFunc receives the complete, ordered result of a live query.
type SnapshotFunc[T any] func(T)

// ErrorFunc receives a terminal subscription error. The subscription
// delivers nothing after it.
type ErrorFunc func(error)

// LiveStore is the live document store the chat core runs against.
// Snapshots of one subscription are delivered sequentially, in the order
// the store produced them.
type LiveStore interface {
	Ping(ctx context.Context) error

	// ServerTime returns the store's clock, used as the write-time value.
	ServerTime(ctx context.Context) (time.Time, error)

	// WritePresence sets online and lastSeen (server time) on the
	// participant record, creating it from profile when absent.
	WritePresence(ctx context.Context, profile models.Profile, online bool) error
	GetParticipant(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context) ([]models.Participant, error)
	WatchParticipants(ctx context.Context, onSnapshot SnapshotFunc[[]models.Participant], onError ErrorFunc) (Subscription, error)
	WatchParticipant(ctx context.Context, id string, onSnapshot SnapshotFunc[*models.Participant], onError ErrorFunc) (Subscription, error)

	// AddMessage appends to the conversation; the store assigns ID and CreatedAt.
	AddMessage(ctx context.Context, key string, msg models.NewMessage) (*models.Message, error)
	DeleteMessage(ctx context.Context, key, id string) error
	ListMessages(ctx context.Context, key string) ([]models.Message, error)
	WatchMessages(ctx context.Context, key string, onSnapshot SnapshotFunc[[]models.Message], onError ErrorFunc) (Subscription, error)
}

// CodeStore keeps short-lived sign-in state: one-time codes and revoked tokens.
type CodeStore interface {
	SaveCode(ctx context.Context, phone, hash string, ttl time.Duration) error
	GetCode(ctx context.Context, phone string) (string, error)
	DeleteCode(ctx context.Context, phone string) error
	IncrementCodeAttempts(ctx context.Context, phone string, ttl time.Duration) (int64, error)

	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	PublishAuthEvent(ctx context.Context, accountID string, event string) error
	WatchAuthEvents(ctx context.Context, accountID string, onEvent func(string)) (Subscription, error)
}
