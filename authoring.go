package responder

import (
	"context"
	"fmt"

	"github.com/gobridge/responder/store"
)

// Authoring entry points. Each writes through the store and then reloads
// the community's rule table; store failures surface to the calling
// command, and the in-memory table is left as it was.

// CreateRule creates an active rule with the given trigger and a public
// response, and returns the new rule's ID.
func (e *Engine) CreateRule(ctx context.Context, community, trigger, response string) (int64, error) {
	spec, err := ParseTrigger(trigger)
	if err != nil {
		return 0, err
	}
	if _, err := Compile(spec, FlagActive); err != nil {
		return 0, err
	}

	ruleID, err := e.rules.CreateRule(ctx, store.RuleRow{
		Community: community,
		Trigger:   trigger,
		Flags:     int64(FlagActive),
		Chance:    chanceScale,
	})
	if err != nil {
		return 0, err
	}
	if response != "" {
		_, err := e.rules.CreateResponse(ctx, store.ResponseRow{
			Community: community,
			RuleID:    ruleID,
			Kind:      string(ResponsePublic),
			Text:      response,
			Active:    true,
		})
		if err != nil {
			return 0, err
		}
	}
	return ruleID, e.Reload(ctx, community)
}

// DeleteRule removes a rule and everything bound to it.
func (e *Engine) DeleteRule(ctx context.Context, community string, ruleID int64) error {
	if err := e.rules.DeleteRule(ctx, community, ruleID); err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

func (e *Engine) ruleRow(ctx context.Context, community string, ruleID int64) (store.RuleRow, error) {
	rows, err := e.rules.Rules(ctx, community)
	if err != nil {
		return store.RuleRow{}, err
	}
	for _, row := range rows {
		if row.ID == ruleID {
			return row, nil
		}
	}
	return store.RuleRow{}, store.ErrNotFound
}

// SetFlag sets or clears one flag on a rule. The returned warnings name
// flag combinations that are valid but inert; they never block the change.
func (e *Engine) SetFlag(ctx context.Context, community string, ruleID int64, flag Flags, value bool) ([]string, error) {
	row, err := e.ruleRow(ctx, community, ruleID)
	if err != nil {
		return nil, err
	}

	flags := Flags(row.Flags)
	if value {
		flags = flags.With(flag)
	} else {
		flags = flags.Without(flag)
	}
	row.Flags = int64(flags)

	if err := e.rules.UpdateRule(ctx, row); err != nil {
		return nil, err
	}
	if err := e.Reload(ctx, community); err != nil {
		return nil, err
	}
	return flags.Warnings(), nil
}

// SetChance sets the public-reply probability of a rule.
func (e *Engine) SetChance(ctx context.Context, community string, ruleID int64, chance float64) error {
	if chance < 0 || chance > 1 {
		return fmt.Errorf("chance %v out of range [0, 1]", chance)
	}
	row, err := e.ruleRow(ctx, community, ruleID)
	if err != nil {
		return err
	}
	row.Chance = int(chance * chanceScale)
	if err := e.rules.UpdateRule(ctx, row); err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

// SetTrigger replaces a rule's trigger after checking it parses and
// compiles with the rule's current flags.
func (e *Engine) SetTrigger(ctx context.Context, community string, ruleID int64, trigger string) error {
	row, err := e.ruleRow(ctx, community, ruleID)
	if err != nil {
		return err
	}

	spec, err := ParseTrigger(trigger)
	if err != nil {
		return err
	}
	if _, err := Compile(spec, Flags(row.Flags)); err != nil {
		return err
	}

	row.Trigger = trigger
	if err := e.rules.UpdateRule(ctx, row); err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

// AddResponse appends an active response to one of a rule's response sets.
func (e *Engine) AddResponse(ctx context.Context, community string, ruleID int64, kind ResponseKind, text string) (int64, error) {
	switch kind {
	case ResponsePublic, ResponseMod, ResponseLog:
	default:
		return 0, fmt.Errorf("unknown response kind %q", kind)
	}
	if _, err := e.ruleRow(ctx, community, ruleID); err != nil {
		return 0, err
	}

	id, err := e.rules.CreateResponse(ctx, store.ResponseRow{
		Community: community,
		RuleID:    ruleID,
		Kind:      string(kind),
		Text:      text,
		Active:    true,
	})
	if err != nil {
		return 0, err
	}
	return id, e.Reload(ctx, community)
}

// RemoveResponse deletes a response entry.
func (e *Engine) RemoveResponse(ctx context.Context, community string, responseID int64) error {
	if err := e.rules.DeleteResponse(ctx, community, responseID); err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

// EnableResponse toggles a response entry's active bit.
func (e *Engine) EnableResponse(ctx context.Context, community string, responseID int64, active bool) error {
	rows, err := e.rules.Responses(ctx, community)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID != responseID {
			continue
		}
		row.Active = active
		if err := e.rules.UpdateResponse(ctx, row); err != nil {
			return err
		}
		return e.Reload(ctx, community)
	}
	return store.ErrNotFound
}

// BindChannel binds a channel to a rule. With ruleID zero the binding is
// community-level: kind "ignore" joins the global ignore list and kind
// "log" sets the community log channel.
func (e *Engine) BindChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error {
	switch kind {
	case store.ChannelListen, store.ChannelResponse, store.ChannelLog, store.ChannelIgnore, store.ChannelMod:
	default:
		return fmt.Errorf("unknown channel kind %q", kind)
	}
	if ruleID != 0 {
		if _, err := e.ruleRow(ctx, community, ruleID); err != nil {
			return err
		}
	}

	_, err := e.rules.CreateChannel(ctx, store.ChannelRow{
		Community: community,
		RuleID:    ruleID,
		ChannelID: channelID,
		Kind:      kind,
	})
	if err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

// UnbindChannel removes a channel binding.
func (e *Engine) UnbindChannel(ctx context.Context, community string, ruleID int64, channelID, kind string) error {
	if err := e.rules.DeleteChannel(ctx, community, ruleID, channelID, kind); err != nil {
		return err
	}
	return e.Reload(ctx, community)
}

// GlobalIgnore adds or removes a channel on the community's global ignore
// list.
func (e *Engine) GlobalIgnore(ctx context.Context, community, channelID string, ignored bool) error {
	if ignored {
		return e.BindChannel(ctx, community, 0, channelID, store.ChannelIgnore)
	}
	return e.UnbindChannel(ctx, community, 0, channelID, store.ChannelIgnore)
}

// GlobalIgnoreList returns the community's globally ignored channels.
func (e *Engine) GlobalIgnoreList(community string) []string {
	c := e.community(community)
	if c == nil {
		return nil
	}
	var channels []string
	for id := range c.globalIgnore {
		channels = append(channels, id)
	}
	return channels
}
