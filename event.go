package responder

import (
	"context"
	"strings"
)

// OnMessage evaluates one inbound message against every rule of its
// community, in rule order. Log and moderator-notification responses are
// attempted for every matching rule; the first rule producing a terminal
// action (public reply or moderation action) is the only one to act. A
// failure on one rule never stops the walk.
func (e *Engine) OnMessage(ctx context.Context, msg Message, isModerator bool) {
	c := e.community(msg.Community)
	if c == nil {
		return
	}

	acted := false
	for _, rule := range c.rules {
		if !rule.Flags.Has(FlagActive) {
			continue
		}
		if isModerator && rule.Flags.Has(FlagIgnoreModerators) {
			continue
		}
		if len(rule.ListenChannels) > 0 && !rule.ListenChannels[msg.Channel] {
			continue
		}
		if rule.IgnoreChannels[msg.Channel] {
			continue
		}
		if c.globalIgnore[msg.Channel] {
			continue
		}

		matched, ok := rule.Match(msg.Text)
		if !ok {
			continue
		}

		fc := e.formatContextFor(ctx, rule, msg, matched)

		// Log and moderator-notification sends happen for every
		// matching rule, independent of the terminal action. A
		// log-only rule is done after logging: no mod notification,
		// no trigger deletion, no terminal action.
		e.sendLogResponses(ctx, c, rule, fc)
		if rule.Flags.Has(FlagLogOnly) {
			if e.firstMatchOnly {
				return
			}
			continue
		}
		e.sendModNotifications(ctx, rule, fc)

		if !acted {
			acted = true
			// The response-channel binding doubles as the moderation
			// channel for gated rules; without one the gate cannot be
			// posted anywhere and the rule replies directly.
			if rule.Flags.Has(FlagModAction) && rule.ResponseChannel != "" {
				e.openModerationAction(ctx, rule, msg, matched, rule.ResponseChannel)
			} else {
				if rule.Flags.Has(FlagModAction) {
					e.logf("rule %d in %s has mod_action but no response channel", rule.ID, rule.Community)
				}
				e.sendPublicResponse(ctx, c, rule, msg, fc)
			}
		}

		if e.firstMatchOnly {
			return
		}
	}
}

// formatContextFor assembles the substitution values for one match. The
// permalink is best effort; a fetch failure leaves it empty.
func (e *Engine) formatContextFor(ctx context.Context, rule *Rule, msg Message, matched []string) formatContext {
	permalink, err := e.transport.Permalink(ctx, msg.Channel, msg.ID)
	if err != nil {
		e.logf("fetching permalink for %s/%s: %v", msg.Channel, msg.ID, err)
		permalink = ""
	}
	return formatContext{
		authorMention: "<@" + msg.Author + ">",
		channelRef:    "<#" + msg.Channel + ">",
		permalink:     permalink,
		content:       msg.Text,
		matched:       matched,
	}
}

// sendLogResponses delivers the rule's log set. When the rule has no
// active log responses the public set doubles as the log text; when no log
// channel is bound, a log-only rule falls back to the community log
// channel and anything else sends nothing.
func (e *Engine) sendLogResponses(ctx context.Context, c *community, rule *Rule, fc formatContext) {
	responses := rule.ActiveResponses(ResponseLog)
	if len(responses) == 0 {
		responses = rule.ActiveResponses(ResponsePublic)
	}
	if len(responses) == 0 {
		return
	}

	var channels []string
	for id := range rule.LogChannels {
		channels = append(channels, id)
	}
	if len(channels) == 0 {
		if !rule.Flags.Has(FlagLogOnly) || c.logChannel == "" {
			return
		}
		channels = []string{c.logChannel}
	}

	text := formatResponse(bulletList(responses), fc)
	for _, channel := range channels {
		if _, err := e.transport.SendMessage(ctx, channel, text, SendOptions{}); err != nil {
			e.logf("sending log response for rule %d to %s: %v", rule.ID, channel, err)
		}
	}
}

// sendModNotifications delivers the rule's moderator set to its bound mod
// channels. No bound channel means no send.
func (e *Engine) sendModNotifications(ctx context.Context, rule *Rule, fc formatContext) {
	responses := rule.ActiveResponses(ResponseMod)
	if len(responses) == 0 {
		return
	}

	text := formatResponse(bulletList(responses), fc)
	for channel := range rule.ModChannels {
		if _, err := e.transport.SendMessage(ctx, channel, text, SendOptions{}); err != nil {
			e.logf("sending mod notification for rule %d to %s: %v", rule.ID, channel, err)
		}
	}
}

// sendPublicResponse runs the public path: trigger deletion, the chance
// gate, selection, formatting and routing.
func (e *Engine) sendPublicResponse(ctx context.Context, c *community, rule *Rule, msg Message, fc formatContext) {
	if rule.Flags.Has(FlagDeleteTrigger) {
		if err := e.transport.DeleteMessage(ctx, msg.Channel, msg.ID); err != nil && err != ErrMessageNotFound {
			e.logf("deleting trigger %s/%s for rule %d: %v", msg.Channel, msg.ID, rule.ID, err)
		}
	}

	responses := rule.ActiveResponses(ResponsePublic)
	if len(responses) == 0 {
		return
	}

	if rule.Chance < 1.0 && e.randFloat() >= rule.Chance {
		return
	}

	chosen := responses[int(e.randFloat()*float64(len(responses)))%len(responses)]
	text := formatResponse(chosen.Text, fc)

	if rule.Flags.Has(FlagDMResponse) {
		if err := e.transport.SendDirectMessage(ctx, msg.Author, text); err != nil {
			e.logf("sending DM response for rule %d to %s: %v", rule.ID, msg.Author, err)
			e.logDMFailure(ctx, c, rule, msg)
		}
		return
	}

	channel := msg.Channel
	if rule.ResponseChannel != "" && !rule.Flags.Has(FlagModAction) {
		channel = rule.ResponseChannel
	}

	opts := SendOptions{}
	if rule.Flags.Has(FlagUseReplyLink) && channel == msg.Channel {
		opts.ThreadID = msg.ID
	}

	sentID, err := e.transport.SendMessage(ctx, channel, text, opts)
	if err != nil {
		e.logf("sending public response for rule %d to %s: %v", rule.ID, channel, err)
		return
	}

	if rule.Flags.Has(FlagDeleteWhenTriggerDeleted) && channel == msg.Channel {
		e.deferred.register(rule.ID, msg.Community, msg.Channel, msg.ID, sentID)
	}
}

// logDMFailure notes a refused DM in the community log channel. The reply
// is suppressed rather than falling back to the public channel.
func (e *Engine) logDMFailure(ctx context.Context, c *community, rule *Rule, msg Message) {
	if c.logChannel == "" {
		return
	}
	notice := "Could not deliver the response for rule " + rule.ShortDescription() +
		" to <@" + msg.Author + "> by direct message."
	notice = strings.TrimSpace(notice)
	if _, err := e.transport.SendMessage(ctx, c.logChannel, notice, SendOptions{}); err != nil {
		e.logf("logging DM failure for rule %d: %v", rule.ID, err)
	}
}
