package responder

import (
	"fmt"
	"sort"
	"strings"
)

// Flags is the set of per-rule behavior toggles. It is persisted as an
// integer bit mask; all branching goes through Has so the raw bits never
// leak into the rest of the engine.
type Flags uint

const (
	// FlagActive marks the rule as eligible for matching.
	FlagActive Flags = 1 << iota
	// FlagFullMatch anchors literal triggers to the whole message and
	// word-bounds list triggers.
	FlagFullMatch
	// FlagDeleteTrigger deletes the triggering message on match.
	FlagDeleteTrigger
	// FlagMatchCase makes matching case sensitive.
	FlagMatchCase
	// FlagIgnoreModerators skips messages authored by moderators.
	FlagIgnoreModerators
	// FlagModAction gates the response behind a moderator decision.
	FlagModAction
	// FlagLogOnly routes responses to the log channel only.
	FlagLogOnly
	// FlagDMResponse sends the public response as a direct message.
	FlagDMResponse
	// FlagDeleteWhenTriggerDeleted retracts sent responses when the
	// triggering message is later deleted.
	FlagDeleteWhenTriggerDeleted
	// FlagDeleteOnModRespond deletes the triggering message when a
	// moderator picks the auto-respond resolution.
	FlagDeleteOnModRespond
	// FlagUseReplyLink sends the response threaded on the trigger.
	FlagUseReplyLink
)

var flagNames = map[Flags]string{
	FlagActive:                   "active",
	FlagFullMatch:                "full_match",
	FlagDeleteTrigger:            "delete",
	FlagMatchCase:                "match_case",
	FlagIgnoreModerators:         "ignore_mod",
	FlagModAction:                "mod_action",
	FlagLogOnly:                  "log_only",
	FlagDMResponse:               "dm_response",
	FlagDeleteWhenTriggerDeleted: "delete_when_trigger_deleted",
	FlagDeleteOnModRespond:       "delete_on_mod_respond",
	FlagUseReplyLink:             "use_reply",
}

// Has reports whether every bit in f is set.
func (fl Flags) Has(f Flags) bool {
	return fl&f == f
}

// With returns fl with f set.
func (fl Flags) With(f Flags) Flags {
	return fl | f
}

// Without returns fl with f cleared.
func (fl Flags) Without(f Flags) Flags {
	return fl &^ f
}

func (fl Flags) String() string {
	var names []string
	for f, name := range flagNames {
		if fl.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// ParseFlag resolves a flag by its command-surface name.
func ParseFlag(name string) (Flags, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range flagNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown flag %q", name)
}

// Warnings lists flag combinations that are valid but have no effect.
// Inert combinations are never an error.
func (fl Flags) Warnings() []string {
	var warnings []string
	if fl.Has(FlagDeleteOnModRespond) && !fl.Has(FlagModAction) {
		warnings = append(warnings, "delete_on_mod_respond has no effect without mod_action")
	}
	if fl.Has(FlagDeleteWhenTriggerDeleted) && fl.Has(FlagDeleteTrigger) {
		warnings = append(warnings, "delete_when_trigger_deleted has no effect when the trigger is deleted on match")
	}
	if fl.Has(FlagUseReplyLink) && fl.Has(FlagDMResponse) {
		warnings = append(warnings, "use_reply has no effect on direct message responses")
	}
	if fl.Has(FlagLogOnly) && fl.Has(FlagDMResponse) {
		warnings = append(warnings, "dm_response has no effect on a log-only rule")
	}
	return warnings
}
