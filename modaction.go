package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gobridge/responder/store"
)

// The four resolution reactions attached to every moderation message, plus
// the marker left by the expiry sweep.
const (
	ReactionPass    = "white_check_mark"
	ReactionManual  = "raising_hand"
	ReactionRespond = "speech_balloon"
	ReactionDestroy = "no_entry_sign"
	ReactionExpired = "snail"
)

// Resolution is the moderator's decision on a pending action.
type Resolution int

const (
	// ResolutionPass takes no action and removes the moderation message.
	ResolutionPass Resolution = iota + 1
	// ResolutionManual marks the trigger as handled by hand.
	ResolutionManual
	// ResolutionRespond sends the rule's public response now.
	ResolutionRespond
	// ResolutionDestroy deletes the triggering message.
	ResolutionDestroy
)

func resolutionForReaction(reaction string) (Resolution, bool) {
	switch reaction {
	case ReactionPass:
		return ResolutionPass, true
	case ReactionManual:
		return ResolutionManual, true
	case ReactionRespond:
		return ResolutionRespond, true
	case ReactionDestroy:
		return ResolutionDestroy, true
	}
	return 0, false
}

// PendingAction is the persisted record of one moderator-gated match. It
// is the sole source of truth for in-flight moderation decisions; nothing
// in memory is needed to resolve one after a restart.
type PendingAction struct {
	RuleID        int64    `json:"rule_id"`
	Community     string   `json:"community"`
	Channel       string   `json:"channel"`
	MessageID     string   `json:"message"`
	Author        string   `json:"author"`
	Matched       []string `json:"matched"`
	Content       string   `json:"content"`
	EventTime     int64    `json:"event_time"`
	ActionChannel string   `json:"action_channel"`
	ActionMessage string   `json:"action_message"`
}

func pendingPrefix(community string) string {
	return "modactions/" + community + "/"
}

func pendingKey(community, actionChannel string) string {
	return pendingPrefix(community) + actionChannel
}

// readPending loads the pending blob for one (community, action channel)
// pair. A missing blob is an empty map.
func (e *Engine) readPending(ctx context.Context, key string) (map[string]PendingAction, error) {
	value, err := e.config.Get(ctx, key)
	if err == store.ErrNotFound {
		return make(map[string]PendingAction), nil
	}
	if err != nil {
		return nil, err
	}
	pending := make(map[string]PendingAction)
	if err := json.Unmarshal(value, &pending); err != nil {
		return nil, fmt.Errorf("decoding pending blob %s: %v", key, err)
	}
	return pending, nil
}

// writePending stores a pending blob, deleting the key when the blob is
// empty.
func (e *Engine) writePending(ctx context.Context, key string, pending map[string]PendingAction) error {
	if len(pending) == 0 {
		return e.config.Delete(ctx, key)
	}
	value, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return e.config.Set(ctx, key, value)
}

// takePending removes and returns one pending entry, re-reading the blob
// under the pending lock so a concurrent sweep or resolution cannot be
// processed twice. Returns false when the entry is gone.
func (e *Engine) takePending(ctx context.Context, community, actionChannel, actionMessage string) (PendingAction, bool, error) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	key := pendingKey(community, actionChannel)
	pending, err := e.readPending(ctx, key)
	if err != nil {
		return PendingAction{}, false, err
	}
	entry, ok := pending[actionMessage]
	if !ok {
		return PendingAction{}, false, nil
	}
	delete(pending, actionMessage)
	if err := e.writePending(ctx, key, pending); err != nil {
		return PendingAction{}, false, err
	}
	return entry, true, nil
}

// openModerationAction posts the moderator-facing message for a match and
// persists the pending entry. Posting and each reaction retry a bounded
// number of times; if posting ultimately fails no entry is created and the
// match stays a moderation no-op.
func (e *Engine) openModerationAction(ctx context.Context, rule *Rule, msg Message, matched []string, actionChannel string) {
	permalink, err := e.transport.Permalink(ctx, msg.Channel, msg.ID)
	if err != nil {
		permalink = ""
	}
	text := moderationSummary(rule, msg, matched, permalink)

	var actionMessage string
	err = retry(ctx, e.retryAttempts, e.retryBackoff, func() error {
		var sendErr error
		actionMessage, sendErr = e.transport.SendMessage(ctx, actionChannel, text, SendOptions{})
		return sendErr
	})
	if err != nil {
		e.logf("posting moderation message for rule %d to %s: %v", rule.ID, actionChannel, err)
		return
	}

	for _, reaction := range []string{ReactionPass, ReactionManual, ReactionRespond, ReactionDestroy} {
		reaction := reaction
		err := retry(ctx, e.retryAttempts, e.retryBackoff, func() error {
			return e.transport.AddReaction(ctx, actionChannel, actionMessage, reaction)
		})
		if err != nil {
			e.logf("attaching :%s: to moderation message %s: %v", reaction, actionMessage, err)
		}
	}

	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	key := pendingKey(msg.Community, actionChannel)
	pending, err := e.readPending(ctx, key)
	if err != nil {
		e.logf("reading pending blob %s: %v", key, err)
		pending = make(map[string]PendingAction)
	}
	pending[actionMessage] = PendingAction{
		RuleID:        rule.ID,
		Community:     msg.Community,
		Channel:       msg.Channel,
		MessageID:     msg.ID,
		Author:        msg.Author,
		Matched:       matched,
		Content:       msg.Text,
		EventTime:     msg.Time.Unix(),
		ActionChannel: actionChannel,
		ActionMessage: actionMessage,
	}
	if err := e.writePending(ctx, key, pending); err != nil {
		e.logf("persisting pending entry %s: %v", actionMessage, err)
	}
}

// moderationSummary renders the moderator-facing message for one match.
func moderationSummary(rule *Rule, msg Message, matched []string, permalink string) string {
	var b strings.Builder
	b.WriteString("Rule " + rule.ShortDescription() + " matched a message from <@" + msg.Author + "> in <#" + msg.Channel + ">")
	if permalink != "" {
		b.WriteString(" (<" + permalink + "|jump>)")
	}
	b.WriteString("\n> " + DefangMentions(elide(msg.Text, 900)))
	b.WriteString("\nMatched: " + strings.Join(matched, ", "))
	b.WriteString("\n:" + ReactionPass + ": pass")
	b.WriteString("  :" + ReactionManual + ": handled manually")
	b.WriteString("  :" + ReactionRespond + ": respond now")
	b.WriteString("  :" + ReactionDestroy + ": delete the message")
	return b.String()
}

// OnReactionAdded treats a reaction on a pending moderation message as an
// attempted state transition. Non-moderator reactions are ignored; the
// persisted entry is removed before any action runs, so resolution and the
// expiry sweep can never both win.
func (e *Engine) OnReactionAdded(ctx context.Context, ev ReactionEvent, isModerator bool) {
	if !isModerator {
		return
	}
	resolution, ok := resolutionForReaction(ev.Reaction)
	if !ok {
		return
	}
	if e.community(ev.Community) == nil {
		return
	}

	entry, ok, err := e.takePending(ctx, ev.Community, ev.Channel, ev.MessageID)
	if err != nil {
		e.logf("resolving pending entry %s/%s: %v", ev.Channel, ev.MessageID, err)
		return
	}
	if !ok {
		// Not a pending moderation message, or already resolved.
		return
	}

	e.resolve(ctx, entry, resolution, ev.Reactor)
}

func (e *Engine) resolve(ctx context.Context, entry PendingAction, resolution Resolution, moderator string) {
	if resolution == ResolutionPass {
		err := e.transport.DeleteMessage(ctx, entry.ActionChannel, entry.ActionMessage)
		if err != nil && err != ErrMessageNotFound {
			e.logf("deleting moderation message %s: %v", entry.ActionMessage, err)
		}
		return
	}

	if err := e.transport.ClearReactions(ctx, entry.ActionChannel, entry.ActionMessage); err != nil {
		e.logf("clearing reactions on %s: %v", entry.ActionMessage, err)
	}

	elapsed := e.now().Sub(time.Unix(entry.EventTime, 0)).Round(time.Second)
	notes := []string{fmt.Sprintf("Handled by <@%s> after %s.", moderator, elapsed)}

	switch resolution {
	case ResolutionManual:
		// Nothing beyond the annotation.
	case ResolutionRespond:
		notes = append(notes, e.autoRespond(ctx, entry)...)
	case ResolutionDestroy:
		err := e.transport.DeleteMessage(ctx, entry.Channel, entry.MessageID)
		if err == ErrMessageNotFound {
			notes = append(notes, "The original message was already gone.")
		} else if err != nil {
			e.logf("deleting origin %s/%s: %v", entry.Channel, entry.MessageID, err)
			notes = append(notes, "Deleting the original message failed.")
		}
	}

	e.annotate(ctx, entry, notes)
}

// annotate rewrites the moderation message with resolution notes appended.
// A vanished moderation message is treated as already resolved.
func (e *Engine) annotate(ctx context.Context, entry PendingAction, notes []string) {
	fetched, err := e.transport.FetchMessage(ctx, entry.ActionChannel, entry.ActionMessage)
	if err == ErrMessageNotFound {
		return
	}
	if err != nil {
		e.logf("fetching moderation message %s: %v", entry.ActionMessage, err)
		return
	}
	text := fetched.Text + "\n" + strings.Join(notes, "\n")
	if err := e.transport.UpdateMessage(ctx, entry.ActionChannel, entry.ActionMessage, text); err != nil {
		e.logf("annotating moderation message %s: %v", entry.ActionMessage, err)
	}
}

// autoRespond performs the respond-now resolution: send the rule's public
// response toward the origin, suppressing mentions when the origin is
// older than the community's cold-mention threshold. Returns annotation
// notes for the moderation message.
func (e *Engine) autoRespond(ctx context.Context, entry PendingAction) []string {
	c := e.community(entry.Community)
	if c == nil {
		return []string{"The community is no longer registered."}
	}
	rule := c.ruleByID(entry.RuleID)
	if rule == nil {
		return []string{"The rule no longer exists; nothing was sent."}
	}

	responses := rule.ActiveResponses(ResponsePublic)
	if len(responses) == 0 {
		return []string{"The rule has no active responses; nothing was sent."}
	}

	var notes []string
	originGone := false
	if _, err := e.transport.FetchMessage(ctx, entry.Channel, entry.MessageID); err == ErrMessageNotFound {
		originGone = true
		notes = append(notes, "The original message was deleted before responding.")
	} else if err != nil {
		e.logf("fetching origin %s/%s: %v", entry.Channel, entry.MessageID, err)
	}

	permalink, err := e.transport.Permalink(ctx, entry.Channel, entry.MessageID)
	if err != nil {
		permalink = ""
	}
	fc := formatContext{
		authorMention: "<@" + entry.Author + ">",
		channelRef:    "<#" + entry.Channel + ">",
		permalink:     permalink,
		content:       entry.Content,
		matched:       entry.Matched,
	}

	chosen := responses[int(e.randFloat()*float64(len(responses)))%len(responses)]
	text := formatResponse(chosen.Text, fc)

	coldAfter := e.configSeconds(ctx, coldPingKey(entry.Community), defaultColdPingSeconds)
	age := e.now().Unix() - entry.EventTime

	// Mentions survive only strictly under the threshold.
	opts := SendOptions{SuppressMentions: age >= coldAfter}
	if rule.Flags.Has(FlagUseReplyLink) && !originGone {
		opts.ThreadID = entry.MessageID
	}

	sentID, err := e.transport.SendMessage(ctx, entry.Channel, text, opts)
	if err != nil {
		e.logf("sending gated response for rule %d: %v", rule.ID, err)
		return append(notes, "Sending the response failed.")
	}
	notes = append(notes, "Response sent.")

	// Deleting the origin on respond takes precedence over retracting the
	// response when the origin is later deleted.
	if rule.Flags.Has(FlagDeleteOnModRespond) {
		if !originGone {
			err := e.transport.DeleteMessage(ctx, entry.Channel, entry.MessageID)
			if err != nil && err != ErrMessageNotFound {
				e.logf("deleting origin %s/%s: %v", entry.Channel, entry.MessageID, err)
			}
		}
	} else if rule.Flags.Has(FlagDeleteWhenTriggerDeleted) && rule.Flags.Has(FlagActive) && !originGone {
		// A rule deactivated while the action was pending no longer
		// queues its response for deletion.
		e.deferred.register(rule.ID, entry.Community, entry.Channel, entry.MessageID, sentID)
	}
	return notes
}
