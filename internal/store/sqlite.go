package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/midlaj1055/live-chat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/livechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/livechat.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		subject TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (provider, subject)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_subject ON accounts(provider, subject);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) scanAccount(row *sql.Row) (*models.Account, error) {
	var (
		acct                 models.Account
		idStr                string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&idStr,
		&acct.Provider,
		&acct.Subject,
		&acct.DisplayName,
		&acct.PhotoURL,
		&acct.Email,
		&acct.Phone,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	acct.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	acct.CreatedAt = createdAt
	acct.UpdatedAt = updatedAt
	return &acct, nil
}

// CreateAccount inserts an account. A zero ID is replaced by a new UUID.
func (s *SQLiteStore) CreateAccount(ctx context.Context, in *models.Account) (*models.Account, error) {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, provider, subject, display_name, photo_url, email, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), in.Provider, in.Subject, in.DisplayName, in.PhotoURL, in.Email, in.Phone, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, id)
}

// GetAccountByID retrieves an account by ID.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = ?
	`, id.String()))
}

// GetAccountBySubject retrieves an account by sign-in provider and subject.
func (s *SQLiteStore) GetAccountBySubject(ctx context.Context, provider, subject string) (*models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE provider = ? AND subject = ?
	`, provider, subject))
}

// UpdateAccountProfile refreshes the display name and avatar.
func (s *SQLiteStore) UpdateAccountProfile(ctx context.Context, id uuid.UUID, displayName, photoURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET display_name = ?, photo_url = ?, updated_at = ?
		WHERE id = ?
	`, displayName, photoURL, time.Now().UTC(), id.String())
	return err
}

// CountAccounts returns the total number of accounts.
func (s *SQLiteStore) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count, err
}
