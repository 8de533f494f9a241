// Package auth resolves bearer credentials into identities via token
// introspection, and exposes the bot registry lookup interface.
package auth

import (
	"context"

	"github.com/liverace/backend/internal/model"
)

// Resolver resolves a bearer credential against a requested permission scope.
// A credential that does not resolve yields the empty identity with a nil
// error; a non-nil error means the resolver itself failed.
type Resolver interface {
	// ResolveUser resolves a human identity holding the given scope.
	ResolveUser(ctx context.Context, token, scope string) (model.UserIdentity, error)

	// ResolveClient resolves the client identity of an integration. No
	// scope is involved; integrations authorize through a coarser channel.
	ResolveClient(ctx context.Context, token string) (string, error)
}

// BotRegistry maps a client identity and a race category to an active bot
// registration.
type BotRegistry interface {
	Lookup(ctx context.Context, clientID, categoryID string) (model.Bot, error)
}
