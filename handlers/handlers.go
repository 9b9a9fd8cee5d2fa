// Package handlers is the chat-command surface for rule authoring. Each
// handler parses one bot-directed command and calls the matching engine
// entry point; validation dialogs are deliberately thin.
package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/gobridge/responder"
	"github.com/gobridge/responder/bot"
)

// Engine is the part of the responder engine the command surface drives.
type Engine interface {
	Rules(community string) []*responder.Rule
	Reload(ctx context.Context, community string) error
	CreateRule(ctx context.Context, community, trigger, response string) (int64, error)
	DeleteRule(ctx context.Context, community string, ruleID int64) error
	SetFlag(ctx context.Context, community string, ruleID int64, flag responder.Flags, value bool) ([]string, error)
	SetChance(ctx context.Context, community string, ruleID int64, chance float64) error
	SetTrigger(ctx context.Context, community string, ruleID int64, trigger string) error
	AddResponse(ctx context.Context, community string, ruleID int64, kind responder.ResponseKind, text string) (int64, error)
	RemoveResponse(ctx context.Context, community string, responseID int64) error
	EnableResponse(ctx context.Context, community string, responseID int64, active bool) error
	BindChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error
	UnbindChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error
	GlobalIgnore(ctx context.Context, community, channelID string, ignored bool) error
	GlobalIgnoreList(community string) []string
	SetConfigSeconds(ctx context.Context, key string, seconds int64) error
}

// Condition will check whether a message matches a condition.
type Condition func(bot.Message, []string) bool

var (
	// Exact will return true if a message matches one or more strings
	// exactly.
	Exact Condition = func(m bot.Message, strs []string) bool {
		for _, str := range strs {
			if m.TrimmedText == str {
				return true
			}
		}
		return false
	}
	// HasPrefix will return true if a message begins with one or more
	// strings.
	HasPrefix Condition = func(m bot.Message, strs []string) bool {
		for _, str := range strs {
			if strings.HasPrefix(m.TrimmedText, str) {
				return true
			}
		}
		return false
	}
)

// ProcessLinear calls handlers in order.
func ProcessLinear(hs ...bot.Handler) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		for _, h := range hs {
			h.Handle(ctx, m, r)
		}
	})
}

// ModeratorOnly calls h when the author is a moderator.
func ModeratorOnly(h bot.Handler) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !m.IsModerator {
			return
		}
		h.Handle(ctx, m, r)
	})
}

var channelRefRE = regexp.MustCompile(`<#([A-Za-z0-9]+)(?:\|[^>]*)?>`)

// channelID unwraps a Slack channel reference like <#C123|general>.
func channelID(s string) string {
	if m := channelRefRE.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// Commands builds the full rule-authoring command surface. community
// resolves the workspace the bot runs in; it is only valid after the bot
// initialized, hence the indirection.
func Commands(e Engine, community func() string) bot.Handler {
	return ProcessLinear(
		ListRules(e, community),
		ModeratorOnly(ProcessLinear(
			ReloadRules(e, community),
			NewRule(e, community),
			DeleteRule(e, community),
			SetFlag(e, community),
			SetChance(e, community),
			SetTrigger(e, community),
			AddResponse(e, community),
			RemoveResponse(e, community),
			EnableResponse(e, community),
			BindChannel(e, community),
			UnbindChannel(e, community),
			IgnoreChannel(e, community),
			SetThreshold(e, community),
		)),
	)
}

// ListRules responds with a compact listing of the community's rules.
func ListRules(e Engine, community func() string) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !Exact(m, []string{"list rules"}) {
			return
		}

		rules := e.Rules(community())
		if len(rules) == 0 {
			r.Respond(ctx, "No rules configured.")
			return
		}
		var lines []string
		for _, rule := range rules {
			lines = append(lines, fmt.Sprintf("%d: %s [%s] chance=%.2f",
				rule.ID, rule.ShortDescription(), rule.Flags, rule.Chance))
		}
		r.Respond(ctx, strings.Join(lines, "\n"))
	})
}

// ReloadRules refreshes the in-memory rule table from the store.
func ReloadRules(e Engine, community func() string) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !Exact(m, []string{"reload rules"}) {
			return
		}
		if err := e.Reload(ctx, community()); err != nil {
			r.Respond(ctx, "Reload failed: "+err.Error())
			return
		}
		r.Respond(ctx, "Rules reloaded.")
	})
}

// NewRule creates a rule: `new rule <trigger> => <response>`.
func NewRule(e Engine, community func() string) bot.Handler {
	const prefix = "new rule "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.SplitN(strings.TrimPrefix(m.TrimmedText, prefix), "=>", 2)
		trigger := strings.TrimSpace(args[0])
		response := ""
		if len(args) == 2 {
			response = strings.TrimSpace(args[1])
		}

		ruleID, err := e.CreateRule(ctx, community(), trigger, response)
		if err != nil {
			r.Respond(ctx, "Creating the rule failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Created rule %d.", ruleID))
	})
}

// DeleteRule removes a rule: `delete rule <id>`.
func DeleteRule(e Engine, community func() string) bot.Handler {
	const prefix = "delete rule "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		ruleID, err := cast.ToInt64E(strings.TrimSpace(strings.TrimPrefix(m.TrimmedText, prefix)))
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		if err := e.DeleteRule(ctx, community(), ruleID); err != nil {
			r.Respond(ctx, "Deleting the rule failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Deleted rule %d.", ruleID))
	})
}

// SetFlag toggles a flag: `set flag <id> <name> <on|off>`.
func SetFlag(e Engine, community func() string) bot.Handler {
	const prefix = "set flag "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.Fields(strings.TrimPrefix(m.TrimmedText, prefix))
		if len(args) != 3 {
			r.Respond(ctx, "Usage: set flag <rule> <flag> <on|off>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		flag, err := responder.ParseFlag(args[1])
		if err != nil {
			r.Respond(ctx, err.Error())
			return
		}
		var value bool
		switch args[2] {
		case "on":
			value = true
		case "off":
			value = false
		default:
			r.Respond(ctx, "I need on or off.")
			return
		}

		warnings, err := e.SetFlag(ctx, community(), ruleID, flag, value)
		if err != nil {
			r.Respond(ctx, "Setting the flag failed: "+err.Error())
			return
		}
		reply := fmt.Sprintf("Flag %s updated on rule %d.", args[1], ruleID)
		if len(warnings) > 0 {
			reply += "\nNote: " + strings.Join(warnings, "; ")
		}
		r.Respond(ctx, reply)
	})
}

// SetChance sets the public-reply probability: `set chance <id> <0..1>`.
func SetChance(e Engine, community func() string) bot.Handler {
	const prefix = "set chance "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.Fields(strings.TrimPrefix(m.TrimmedText, prefix))
		if len(args) != 2 {
			r.Respond(ctx, "Usage: set chance <rule> <0..1>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		chance, err := cast.ToFloat64E(args[1])
		if err != nil {
			r.Respond(ctx, "I need a probability between 0 and 1.")
			return
		}
		if err := e.SetChance(ctx, community(), ruleID, chance); err != nil {
			r.Respond(ctx, "Setting the chance failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Chance on rule %d is now %.2f.", ruleID, chance))
	})
}

// SetTrigger replaces a trigger: `set trigger <id> <trigger>`.
func SetTrigger(e Engine, community func() string) bot.Handler {
	const prefix = "set trigger "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.SplitN(strings.TrimPrefix(m.TrimmedText, prefix), " ", 2)
		if len(args) != 2 {
			r.Respond(ctx, "Usage: set trigger <rule> <trigger>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		if err := e.SetTrigger(ctx, community(), ruleID, strings.TrimSpace(args[1])); err != nil {
			r.Respond(ctx, "Setting the trigger failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Trigger on rule %d updated.", ruleID))
	})
}

// AddResponse appends a response: `add response <id> <public|mod|log> <text>`.
func AddResponse(e Engine, community func() string) bot.Handler {
	const prefix = "add response "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.SplitN(strings.TrimPrefix(m.TrimmedText, prefix), " ", 3)
		if len(args) != 3 {
			r.Respond(ctx, "Usage: add response <rule> <public|mod|log> <text>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		id, err := e.AddResponse(ctx, community(), ruleID, responder.ResponseKind(args[1]), strings.TrimSpace(args[2]))
		if err != nil {
			r.Respond(ctx, "Adding the response failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Added response %d to rule %d.", id, ruleID))
	})
}

// RemoveResponse deletes a response: `remove response <id>`.
func RemoveResponse(e Engine, community func() string) bot.Handler {
	const prefix = "remove response "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		responseID, err := cast.ToInt64E(strings.TrimSpace(strings.TrimPrefix(m.TrimmedText, prefix)))
		if err != nil {
			r.Respond(ctx, "I need a numeric response id.")
			return
		}
		if err := e.RemoveResponse(ctx, community(), responseID); err != nil {
			r.Respond(ctx, "Removing the response failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Removed response %d.", responseID))
	})
}

// EnableResponse toggles a response: `enable response <id> <on|off>`.
func EnableResponse(e Engine, community func() string) bot.Handler {
	const prefix = "enable response "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.Fields(strings.TrimPrefix(m.TrimmedText, prefix))
		if len(args) != 2 {
			r.Respond(ctx, "Usage: enable response <id> <on|off>")
			return
		}
		responseID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric response id.")
			return
		}
		active := args[1] == "on"
		if err := e.EnableResponse(ctx, community(), responseID, active); err != nil {
			r.Respond(ctx, "Updating the response failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Response %d is now %s.", responseID, args[1]))
	})
}

// BindChannel binds a channel: `bind channel <rule> <channel> <kind>`.
// Rule 0 targets the community itself (global ignore list, log channel).
func BindChannel(e Engine, community func() string) bot.Handler {
	const prefix = "bind channel "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.Fields(strings.TrimPrefix(m.TrimmedText, prefix))
		if len(args) != 3 {
			r.Respond(ctx, "Usage: bind channel <rule> <channel> <listen|response|log|ignore|mod>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		if err := e.BindChannel(ctx, community(), ruleID, channelID(args[1]), args[2]); err != nil {
			r.Respond(ctx, "Binding the channel failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Bound %s to rule %d as %s.", args[1], ruleID, args[2]))
	})
}

// UnbindChannel removes a binding: `unbind channel <rule> <channel> <kind>`.
func UnbindChannel(e Engine, community func() string) bot.Handler {
	const prefix = "unbind channel "
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		if !HasPrefix(m, []string{prefix}) {
			return
		}

		args := strings.Fields(strings.TrimPrefix(m.TrimmedText, prefix))
		if len(args) != 3 {
			r.Respond(ctx, "Usage: unbind channel <rule> <channel> <kind>")
			return
		}
		ruleID, err := cast.ToInt64E(args[0])
		if err != nil {
			r.Respond(ctx, "I need a numeric rule id.")
			return
		}
		if err := e.UnbindChannel(ctx, community(), ruleID, channelID(args[1]), args[2]); err != nil {
			r.Respond(ctx, "Unbinding the channel failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("Unbound %s from rule %d.", args[1], ruleID))
	})
}

// IgnoreChannel manages the global ignore list: `ignore channel <channel>`,
// `unignore channel <channel>` and `list ignored channels`.
func IgnoreChannel(e Engine, community func() string) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		switch {
		case Exact(m, []string{"list ignored channels"}):
			channels := e.GlobalIgnoreList(community())
			if len(channels) == 0 {
				r.Respond(ctx, "No channels are globally ignored.")
				return
			}
			r.Respond(ctx, "Globally ignored: "+strings.Join(channels, ", "))

		case HasPrefix(m, []string{"ignore channel "}):
			ch := channelID(strings.TrimSpace(strings.TrimPrefix(m.TrimmedText, "ignore channel ")))
			if err := e.GlobalIgnore(ctx, community(), ch, true); err != nil {
				r.Respond(ctx, "Ignoring the channel failed: "+err.Error())
				return
			}
			r.Respond(ctx, "Channel ignored everywhere.")

		case HasPrefix(m, []string{"unignore channel "}):
			ch := channelID(strings.TrimSpace(strings.TrimPrefix(m.TrimmedText, "unignore channel ")))
			if err := e.GlobalIgnore(ctx, community(), ch, false); err != nil {
				r.Respond(ctx, "Unignoring the channel failed: "+err.Error())
				return
			}
			r.Respond(ctx, "Channel no longer ignored.")
		}
	})
}

// SetThreshold updates the per-community durations: `set expiry <seconds>`
// and `set coldping <seconds>`.
func SetThreshold(e Engine, community func() string) bot.Handler {
	return bot.HandlerFunc(func(ctx context.Context, m bot.Message, r bot.Responder) {
		var key, name, raw string
		switch {
		case HasPrefix(m, []string{"set expiry "}):
			key = responder.ExpiryKey(community())
			name = "expiry"
			raw = strings.TrimPrefix(m.TrimmedText, "set expiry ")
		case HasPrefix(m, []string{"set coldping "}):
			key = responder.ColdPingKey(community())
			name = "cold-mention age"
			raw = strings.TrimPrefix(m.TrimmedText, "set coldping ")
		default:
			return
		}

		seconds, err := cast.ToInt64E(strings.TrimSpace(raw))
		if err != nil || seconds <= 0 {
			r.Respond(ctx, "I need a positive number of seconds.")
			return
		}
		if err := e.SetConfigSeconds(ctx, key, seconds); err != nil {
			r.Respond(ctx, "Updating the threshold failed: "+err.Error())
			return
		}
		r.Respond(ctx, fmt.Sprintf("The %s is now %d seconds.", name, seconds))
	})
}
