package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by the resolvers when a stored channel or role
// reference no longer points at anything the bot can act on.
var ErrNotFound = errors.New("transport: not found")

// Message is one entry of a channel history page.
type Message struct {
	ID        string
	AuthorID  string
	Bot       bool
	CreatedAt time.Time
}

// HistorySource reads a channel's message history backward in time.
//
// Pages are newest-first. beforeID is the pagination cursor: empty means
// "start at the most recent message", otherwise only messages strictly
// older than that id are returned. An empty page means the true start of
// history has been reached.
type HistorySource interface {
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]Message, error)
}

// RoleManager enumerates and mutates a role's membership.
type RoleManager interface {
	RoleHolders(ctx context.Context, roleID string) ([]string, error)
	GrantRole(ctx context.Context, memberID, roleID string) error
	RevokeRole(ctx context.Context, memberID, roleID string) error
}

// Resolver checks that stored references still resolve.
// Implementations return ErrNotFound (possibly wrapped) for stale refs.
type Resolver interface {
	ResolveChannel(ctx context.Context, channelID string) error
	ResolveRole(ctx context.Context, roleID string) error
}

// Publisher posts a message to a channel.
type Publisher interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Client is the full capability set the leaderboard engine consumes.
type Client interface {
	HistorySource
	RoleManager
	Resolver
	Publisher
}
