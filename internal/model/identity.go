package model

// Actor is the resolved identity performing a mutation. The two variants are
// UserIdentity (human, scoped token) and BotIdentity (registered integration).
type Actor interface {
	DisplayName() string
	IsBot() bool
}

// UserIdentity is a human identity resolved from a bearer token and a
// required scope. The zero value is the distinguished "unresolved" identity.
type UserIdentity struct {
	ID     string
	Name   string
	Scopes []string
}

// Empty reports whether no user was resolved.
func (u UserIdentity) Empty() bool {
	return u.ID == ""
}

// HasScope reports whether the identity carries the named scope.
func (u UserIdentity) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (u UserIdentity) DisplayName() string { return u.Name }

func (u UserIdentity) IsBot() bool { return false }

// Bot is an active integration registration bound to one race category.
type Bot struct {
	ID         string
	Name       string
	ClientID   string
	CategoryID string
	Active     bool
}

// BotIdentity is an integration identity resolved from a client identity plus
// an active Bot registration for the race's category.
type BotIdentity struct {
	ClientID string
	Bot      Bot
}

// Empty reports whether no bot was resolved.
func (b BotIdentity) Empty() bool {
	return b.Bot.ID == ""
}

func (b BotIdentity) DisplayName() string { return b.Bot.Name }

func (b BotIdentity) IsBot() bool { return true }
