package bot

import (
	"context"
	"strings"

	"github.com/nlopes/slack"

	"github.com/gobridge/responder"
)

// slackAPI is the part of the Slack client the transport needs.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	GetReactionsContext(ctx context.Context, item slack.ItemRef, params slack.GetReactionsParameters) ([]slack.ItemReaction, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	OpenIMChannelContext(ctx context.Context, user string) (bool, bool, string, error)
	GetPermalinkContext(ctx context.Context, params *slack.PermalinkParameters) (string, error)
}

// Transport implements responder.Transport on the Slack Web API.
type Transport struct {
	api  slackAPI
	logf Logger
}

// NewTransport builds a Transport around a Slack client.
func NewTransport(api slackAPI, logf Logger) *Transport {
	return &Transport{api: api, logf: logf}
}

// mapError converts Slack's stringly-typed errors for messages that no
// longer exist into the engine's sentinel.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch strings.TrimSpace(err.Error()) {
	case "message_not_found", "channel_not_found", "cant_delete_message":
		return responder.ErrMessageNotFound
	}
	return err
}

func (t *Transport) SendMessage(ctx context.Context, channel, text string, opts responder.SendOptions) (string, error) {
	if opts.SuppressMentions {
		text = responder.DefangMentions(text)
	}
	msgOpts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	}
	if opts.ThreadID != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ThreadID))
	}
	_, timestamp, err := t.api.PostMessageContext(ctx, channel, msgOpts...)
	return timestamp, mapError(err)
}

func (t *Transport) SendDirectMessage(ctx context.Context, user, text string) error {
	_, _, channel, err := t.api.OpenIMChannelContext(ctx, user)
	if err != nil {
		return err
	}
	_, _, err = t.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	)
	return err
}

func (t *Transport) UpdateMessage(ctx context.Context, channel, messageID, text string) error {
	_, _, _, err := t.api.UpdateMessageContext(ctx, channel, messageID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true),
	)
	return mapError(err)
}

func (t *Transport) DeleteMessage(ctx context.Context, channel, messageID string) error {
	_, _, err := t.api.DeleteMessageContext(ctx, channel, messageID)
	return mapError(err)
}

func (t *Transport) AddReaction(ctx context.Context, channel, messageID, reaction string) error {
	return t.api.AddReactionContext(ctx, reaction, slack.NewRefToMessage(channel, messageID))
}

// ClearReactions removes the bot's own reactions from a message. Slack
// offers no way to strip other users' reactions without admin scopes, so
// clearing the four option reactions is the practical equivalent.
func (t *Transport) ClearReactions(ctx context.Context, channel, messageID string) error {
	item := slack.NewRefToMessage(channel, messageID)
	reactions, err := t.api.GetReactionsContext(ctx, item, slack.NewGetReactionsParameters())
	if err != nil {
		return mapError(err)
	}
	for _, reaction := range reactions {
		if err := t.api.RemoveReactionContext(ctx, reaction.Name, item); err != nil {
			t.logf("removing :%s: from %s/%s: %v", reaction.Name, channel, messageID, err)
		}
	}
	return nil
}

func (t *Transport) FetchMessage(ctx context.Context, channel, messageID string) (responder.FetchedMessage, error) {
	history, err := t.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Latest:    messageID,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return responder.FetchedMessage{}, mapError(err)
	}
	if len(history.Messages) == 0 || history.Messages[0].Timestamp != messageID {
		return responder.FetchedMessage{}, responder.ErrMessageNotFound
	}
	msg := history.Messages[0]
	return responder.FetchedMessage{Author: msg.User, Text: msg.Text}, nil
}

func (t *Transport) Permalink(ctx context.Context, channel, messageID string) (string, error) {
	return t.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{
		Channel: channel,
		Ts:      messageID,
	})
}
