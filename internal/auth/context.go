// Package auth resolves the caller's identity from the fronting auth proxy
// and makes the account available on the request context.
package auth

import (
	"context"

	"github.com/cadrelay/cadrelay/internal/models"
)

type accountKey struct{}

// ContextWithAccount returns a context carrying the authenticated account.
func ContextWithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFromContext returns the authenticated account, or nil when the
// request was not authenticated.
func AccountFromContext(ctx context.Context) *models.Account {
	if account, ok := ctx.Value(accountKey{}).(*models.Account); ok {
		return account
	}
	return nil
}
