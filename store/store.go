// Package store persists responder rules and configuration. The engine
// consumes it through the narrow RuleStore and ConfigStore interfaces; the
// Datastore implementation is the production one, Memory backs dev mode
// and tests.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row or config key doesn't exist.
var ErrNotFound = errors.New("not found")

// RuleRow is the persisted form of one rule.
type RuleRow struct {
	ID        int64  `datastore:"-"`
	Community string `datastore:"Community"`
	Trigger   string `datastore:"Trigger,noindex"`
	Flags     int64  `datastore:"Flags,noindex"`
	// Chance is the public-reply probability scaled to 0..10000.
	Chance int `datastore:"Chance,noindex"`
}

// ResponseRow is one response entry belonging to a rule.
type ResponseRow struct {
	ID        int64  `datastore:"-"`
	Community string `datastore:"Community"`
	RuleID    int64  `datastore:"RuleID"`
	Kind      string `datastore:"Kind,noindex"`
	Text      string `datastore:"Text,noindex"`
	Active    bool   `datastore:"Active,noindex"`
}

// ChannelRow binds a channel to a rule. Rows with RuleID zero are
// community-level: kind "ignore" forms the global ignore list and kind
// "log" names the community log channel.
type ChannelRow struct {
	ID        int64  `datastore:"-"`
	Community string `datastore:"Community"`
	RuleID    int64  `datastore:"RuleID"`
	ChannelID string `datastore:"ChannelID,noindex"`
	Kind      string `datastore:"Kind,noindex"`
}

// Channel binding kinds.
const (
	ChannelListen   = "listen"
	ChannelResponse = "response"
	ChannelLog      = "log"
	ChannelIgnore   = "ignore"
	ChannelMod      = "mod"
)

// RuleStore is rule, response and channel-binding persistence, scoped by
// community. Reads return rows ordered by ID so rule evaluation order is
// stable.
type RuleStore interface {
	Rules(ctx context.Context, community string) ([]RuleRow, error)
	Responses(ctx context.Context, community string) ([]ResponseRow, error)
	Channels(ctx context.Context, community string) ([]ChannelRow, error)

	CreateRule(ctx context.Context, row RuleRow) (int64, error)
	UpdateRule(ctx context.Context, row RuleRow) error
	DeleteRule(ctx context.Context, community string, ruleID int64) error

	CreateResponse(ctx context.Context, row ResponseRow) (int64, error)
	UpdateResponse(ctx context.Context, row ResponseRow) error
	DeleteResponse(ctx context.Context, community string, responseID int64) error

	CreateChannel(ctx context.Context, row ChannelRow) (int64, error)
	DeleteChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error

	DeleteCommunity(ctx context.Context, community string) error
}

// ConfigStore is keyed-blob configuration persistence. Keys are
// slash-separated paths; Keys lists every key under a prefix.
type ConfigStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
