package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/midlaj1055/live-chat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id           UUID PRIMARY KEY,
	provider     TEXT NOT NULL,
	subject      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	photo_url    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (provider, subject)
);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations creates the schema if it does not exist yet.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const accountColumns = `id, provider, subject, display_name, photo_url, email, phone, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	acct := &models.Account{}
	err := row.Scan(
		&acct.ID,
		&acct.Provider,
		&acct.Subject,
		&acct.DisplayName,
		&acct.PhotoURL,
		&acct.Email,
		&acct.Phone,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return acct, nil
}

// CreateAccount inserts an account. A zero ID is replaced by a new UUID.
func (s *PostgresStore) CreateAccount(ctx context.Context, in *models.Account) (*models.Account, error) {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return scanAccount(s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, provider, subject, display_name, photo_url, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+accountColumns,
		id, in.Provider, in.Subject, in.DisplayName, in.PhotoURL, in.Email, in.Phone,
	))
}

// GetAccountByID retrieves an account by ID.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = $1
	`, id))
}

// GetAccountBySubject retrieves an account by sign-in provider and subject.
func (s *PostgresStore) GetAccountBySubject(ctx context.Context, provider, subject string) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE provider = $1 AND subject = $2
	`, provider, subject))
}

// UpdateAccountProfile refreshes the display name and avatar.
func (s *PostgresStore) UpdateAccountProfile(ctx context.Context, id uuid.UUID, displayName, photoURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET display_name = $2, photo_url = $3, updated_at = now()
		WHERE id = $1
	`, id, displayName, photoURL)
	return err
}

// CountAccounts returns the total number of accounts.
func (s *PostgresStore) CountAccounts(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count, err
}
