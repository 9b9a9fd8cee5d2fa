package responder

import (
	"context"
	"errors"
	"time"
)

// Message is an inbound chat message as seen by the engine.
type Message struct {
	Community string
	Channel   string
	ID        string
	Author    string
	Text      string
	Time      time.Time
}

// ReactionEvent is a reaction added to a message.
type ReactionEvent struct {
	Community string
	Channel   string
	MessageID string
	Reactor   string
	Reaction  string
}

// DeleteEvent reports a message deleted on the platform.
type DeleteEvent struct {
	Community string
	Channel   string
	MessageID string
}

// FetchedMessage is the part of a fetched message the engine needs.
type FetchedMessage struct {
	Author string
	Text   string
}

// SendOptions adjust a single outbound send.
type SendOptions struct {
	// ThreadID threads the message on an existing message.
	ThreadID string
	// SuppressMentions defangs mentions so the send cannot ping.
	SuppressMentions bool
}

// ErrMessageNotFound is returned by Transport implementations when the
// referenced message no longer exists.
var ErrMessageNotFound = errors.New("message not found")

// Transport is the outbound surface of the chat platform. Every call is a
// network call; callers treat each as independently fallible.
type Transport interface {
	SendMessage(ctx context.Context, channel, text string, opts SendOptions) (messageID string, err error)
	SendDirectMessage(ctx context.Context, user, text string) error
	UpdateMessage(ctx context.Context, channel, messageID, text string) error
	DeleteMessage(ctx context.Context, channel, messageID string) error
	AddReaction(ctx context.Context, channel, messageID, reaction string) error
	ClearReactions(ctx context.Context, channel, messageID string) error
	FetchMessage(ctx context.Context, channel, messageID string) (FetchedMessage, error)
	Permalink(ctx context.Context, channel, messageID string) (string, error)
}
