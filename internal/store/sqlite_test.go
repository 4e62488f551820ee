package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midlaj1055/live-chat/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteAccounts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	created, err := s.CreateAccount(ctx, &models.Account{
		Provider: models.ProviderPhone,
		Subject:  "+14155550101",
		Phone:    "+14155550101",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := s.GetAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Phone, byID.Phone)

	bySubject, err := s.GetAccountBySubject(ctx, models.ProviderPhone, "+14155550101")
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySubject.ID)

	missing, err := s.GetAccountBySubject(ctx, models.ProviderGoogle, "+14155550101")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateAccountProfile(ctx, created.ID, "Alice", "https://example.com/a.png"))
	updated, err := s.GetAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.DisplayName)
	assert.Equal(t, "https://example.com/a.png", updated.PhotoURL)

	count, err := s.CountAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteSubjectIsUnique(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	in := &models.Account{Provider: models.ProviderGoogle, Subject: "1234"}
	_, err := s.CreateAccount(ctx, in)
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, in)
	assert.Error(t, err)
}

func TestSQLiteUnknownID(t *testing.T) {
	s := newTestSQLite(t)

	acct, err := s.GetAccountByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, acct)
}
