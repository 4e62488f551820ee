package identity

import (
	"context"

	"github.com/midlaj1055/live-chat/internal/models"
)

type contextKey int

const (
	accountKey contextKey = iota
	tokenKey
)

// WithAccount returns a context carrying the signed-in account and its token.
func WithAccount(ctx context.Context, acct *models.Account, token string) context.Context {
	ctx = context.WithValue(ctx, accountKey, acct)
	return context.WithValue(ctx, tokenKey, token)
}

// AccountFrom returns the signed-in account, or nil.
func AccountFrom(ctx context.Context) *models.Account {
	acct, _ := ctx.Value(accountKey).(*models.Account)
	return acct
}

// TokenFrom returns the session token of the request, or "".
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}
