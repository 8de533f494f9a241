package ws

import (
	"context"
	"errors"

	"github.com/liverace/backend/internal/actions"
	"github.com/liverace/backend/internal/auth"
	"github.com/liverace/backend/internal/model"
)

// Permission scopes required by human dispatch.
const (
	ScopeChatMessage = "chat_message"
	ScopeRaceAction  = "race_action"
)

// variant is the strategy distinguishing human and bot sessions: which
// actions each recognizes, how each resolves an identity, and the denial
// message each surfaces. Both run over the same Session implementation.
type variant interface {
	// table maps an action name to its required scope.
	table(action string) (scope string, ok bool)

	// resolve produces the actor for one dispatch. Identities are resolved
	// per call, never cached: the required scope differs per action.
	resolve(ctx context.Context, s *Session, scope string) (model.Actor, bool, error)

	deniedMessage() string
}

// humanVariant resolves a scoped user identity by token introspection.
type humanVariant struct {
	resolver auth.Resolver
}

// HumanVariant returns the session strategy for human participants.
func HumanVariant(resolver auth.Resolver) variant {
	return humanVariant{resolver: resolver}
}

func (v humanVariant) table(action string) (string, bool) {
	if action == "message" {
		return ScopeChatMessage, true
	}
	if actions.Registered(action) {
		return ScopeRaceAction, true
	}
	return "", false
}

func (v humanVariant) resolve(ctx context.Context, s *Session, scope string) (model.Actor, bool, error) {
	identity, err := v.resolver.ResolveUser(ctx, s.token, scope)
	if err != nil {
		return nil, false, err
	}
	if identity.Empty() {
		return nil, false, nil
	}
	return identity, true, nil
}

func (v humanVariant) deniedMessage() string { return msgUserDenied }

// botVariant resolves the integration's client identity, then looks up its
// active bot registration for the session's category. No scopes involved.
type botVariant struct {
	resolver auth.Resolver
	bots     auth.BotRegistry
}

// BotVariant returns the session strategy for automated integrations.
func BotVariant(resolver auth.Resolver, bots auth.BotRegistry) variant {
	return botVariant{resolver: resolver, bots: bots}
}

func (v botVariant) table(action string) (string, bool) {
	switch action {
	case "message", "setinfo":
		return "", true
	}
	return "", false
}

func (v botVariant) resolve(ctx context.Context, s *Session, _ string) (model.Actor, bool, error) {
	clientID, err := v.resolver.ResolveClient(ctx, s.token)
	if err != nil {
		return nil, false, err
	}
	categoryID := s.CategoryID()
	if clientID == "" || categoryID == "" {
		return nil, false, nil
	}

	bot, err := v.bots.Lookup(ctx, clientID, categoryID)
	if errors.Is(err, model.ErrBotNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.BotIdentity{ClientID: clientID, Bot: bot}, true, nil
}

func (v botVariant) deniedMessage() string { return msgBotDenied }
