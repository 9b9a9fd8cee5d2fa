// Package bot connects the responder engine to Slack: it owns the RTM
// event dispatch, resolves which authors count as moderators, and carries
// the command surface for rule authoring.
package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/trace"
	"github.com/nlopes/slack"

	"github.com/gobridge/responder"
)

type (
	// Logger function
	Logger func(message string, args ...interface{})

	// Message is one inbound Slack message with the bot-directed
	// prefix already resolved.
	Message struct {
		Event         *slack.MessageEvent
		TrimmedText   string
		DirectedToBot bool
		IsModerator   bool
	}

	// Responder sends replies on behalf of command handlers.
	Responder interface {
		Respond(ctx context.Context, message string)
	}

	// Handler processes a bot-directed message.
	Handler interface {
		Handle(ctx context.Context, m Message, r Responder)
	}

	// HandlerFunc adapts a function to the Handler interface.
	HandlerFunc func(ctx context.Context, m Message, r Responder)

	// Bot structure
	Bot struct {
		id          string
		msgprefix   string
		name        string
		teamID      string
		devMode     bool
		slackBotAPI *slack.Client
		engine      *responder.Engine
		traceClient *trace.Client
		logf        Logger
		moderators  map[string]bool
		commands    Handler
	}
)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, m Message, r Responder) {
	f(ctx, m, r)
}

// New creates the Slack bot around an engine. moderators lists the user
// IDs whose reactions may resolve moderation actions.
func New(slackBotAPI *slack.Client, engine *responder.Engine, traceClient *trace.Client, name string, moderators []string, devMode bool, logf Logger) *Bot {
	mods := make(map[string]bool, len(moderators))
	for _, id := range moderators {
		mods[id] = true
	}
	return &Bot{
		name:        name,
		devMode:     devMode,
		slackBotAPI: slackBotAPI,
		engine:      engine,
		traceClient: traceClient,
		logf:        logf,
		moderators:  mods,
	}
}

// SetCommands installs the command surface handler.
func (b *Bot) SetCommands(h Handler) {
	b.commands = h
}

// TeamID returns the workspace the bot authenticated into, valid after
// Init.
func (b *Bot) TeamID() string {
	return b.teamID
}

// Init must be called before anything else in order to initialize the bot
func (b *Bot) Init(ctx context.Context, span *trace.Span) error {
	initSpan := span.NewChild("b.Init")
	defer initSpan.Finish()

	b.logf("Determining bot / team IDs")
	childSpan := initSpan.NewChild("slackApi.AuthTest")
	auth, err := b.slackBotAPI.AuthTestContext(ctx)
	childSpan.Finish()
	if err != nil {
		return err
	}

	b.id = auth.UserID
	b.teamID = auth.TeamID
	b.msgprefix = strings.ToLower("<@" + b.id + ">")

	b.logf("Initialized %s with ID: %s in team %s\n", b.name, b.id, b.teamID)

	childSpan = initSpan.NewChild("engine.JoinCommunity")
	err = b.engine.JoinCommunity(ctx, b.teamID)
	childSpan.Finish()
	return err
}

func (b *Bot) isBotMessage(event *slack.MessageEvent, eventText string) bool {
	prefixes := []string{
		b.msgprefix,
		strings.ToLower(b.name),
	}

	for _, p := range prefixes {
		if strings.HasPrefix(eventText, p) {
			return true
		}
	}

	// Direct message channels always starts with 'D'
	return strings.HasPrefix(event.Channel, "D")
}

func (b *Bot) trimBot(msg string) string {
	msg = strings.Replace(msg, strings.ToLower(b.msgprefix), "", 1)
	msg = strings.TrimPrefix(msg, strings.ToLower(b.name))
	msg = strings.Trim(msg, " :\n")

	return msg
}

// slackTime converts a Slack message timestamp into a time.Time. A
// timestamp that does not parse yields the zero time.
func slackTime(ts string) time.Time {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0)
}

// HandleMessage will process the incoming message and dispatch it to the
// command surface or the responder engine.
func (b *Bot) HandleMessage(event *slack.MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("panic handling message %s/%s: %v\n", event.Channel, event.Timestamp, r)
		}
	}()

	span := b.traceClient.NewSpan("b.HandleMessage")
	defer span.Finish()
	ctx := trace.NewContext(context.Background(), span)

	if event.SubType == "message_deleted" {
		b.engine.OnMessageDeleted(ctx, responder.DeleteEvent{
			Community: b.teamID,
			Channel:   event.Channel,
			MessageID: event.DeletedTimestamp,
		})
		return
	}

	if event.BotID != "" || event.User == "" || event.User == b.id || event.SubType == "bot_message" {
		return
	}

	eventText := strings.Trim(strings.ToLower(event.Text), " \n\r")
	isModerator := b.moderators[event.User]

	if b.devMode {
		b.logf("got message: %s\n", eventText)
		b.logf("isBotMessage: %t\n", b.isBotMessage(event, eventText))
		b.logf("channel: %s -> message: %q\n", event.Channel, b.trimBot(eventText))
	}

	if b.isBotMessage(event, eventText) {
		if b.commands == nil {
			return
		}
		m := Message{
			Event:         event,
			TrimmedText:   b.trimBot(eventText),
			DirectedToBot: true,
			IsModerator:   isModerator,
		}
		b.commands.Handle(ctx, m, b.responderFor(event))
		return
	}

	b.engine.OnMessage(ctx, responder.Message{
		Community: b.teamID,
		Channel:   event.Channel,
		ID:        event.Timestamp,
		Author:    event.User,
		Text:      event.Text,
		Time:      slackTime(event.Timestamp),
	}, isModerator)
}

// HandleReaction feeds reaction-added events into the moderation
// workflow. The bot's own reactions (the attached options) are ignored.
func (b *Bot) HandleReaction(event *slack.ReactionAddedEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("panic handling reaction on %s/%s: %v\n", event.Item.Channel, event.Item.Timestamp, r)
		}
	}()

	if event.User == b.id || event.Item.Type != "message" {
		return
	}

	span := b.traceClient.NewSpan("b.HandleReaction")
	span.SetLabel("reaction", event.Reaction)
	defer span.Finish()
	ctx := trace.NewContext(context.Background(), span)

	b.engine.OnReactionAdded(ctx, responder.ReactionEvent{
		Community: b.teamID,
		Channel:   event.Item.Channel,
		MessageID: event.Item.Timestamp,
		Reactor:   event.User,
		Reaction:  event.Reaction,
	}, b.moderators[event.User])
}

type slackResponder struct {
	b     *Bot
	event *slack.MessageEvent
}

func (b *Bot) responderFor(event *slack.MessageEvent) Responder {
	return &slackResponder{b: b, event: event}
}

func (r *slackResponder) Respond(ctx context.Context, message string) {
	if r.b.devMode {
		r.b.logf("should reply to message %s with %s\n", r.event.Text, message)
		return
	}
	_, _, err := r.b.slackBotAPI.PostMessageContext(ctx, r.event.Channel,
		slack.MsgOptionText(message, false),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		r.b.logf("%s\n", err)
	}
}
