package responder

import (
	"regexp"
)

// ResponseKind separates the three response sets a rule can carry.
type ResponseKind string

const (
	// ResponsePublic replies are sent where the routing rules decide.
	ResponsePublic ResponseKind = "public"
	// ResponseMod notifications go to the rule's moderator channels.
	ResponseMod ResponseKind = "mod"
	// ResponseLog entries go to the rule's log channels.
	ResponseLog ResponseKind = "log"
)

// chanceScale is the stored granularity of the public-reply probability.
// A chance of 1.0 is stored as 10000.
const chanceScale = 10000

// Response is one entry of a rule's response set.
type Response struct {
	ID     int64
	Text   string
	Active bool
}

// Rule is the in-memory form of one trigger rule. It is built from store
// rows by Engine.Reload and is read-only afterwards; authoring commands
// write through the store and trigger a reload.
type Rule struct {
	ID        int64
	Community string
	Trigger   TriggerSpec
	Flags     Flags
	Chance    float64

	Responses map[ResponseKind][]Response

	// ResponseChannel is the explicit destination for public replies,
	// empty when replies go to the triggering channel.
	ResponseChannel string
	ListenChannels  map[string]bool
	LogChannels     map[string]bool
	IgnoreChannels  map[string]bool
	ModChannels     map[string]bool

	patterns []*regexp.Regexp
}

// compilePatterns builds the rule's match patterns from its trigger and
// flags. Must be called before Match.
func (r *Rule) compilePatterns() error {
	patterns, err := Compile(r.Trigger, r.Flags)
	if err != nil {
		return err
	}
	r.patterns = patterns
	return nil
}

// Match runs every compiled pattern against body. All patterns must find
// at least one occurrence; the first occurrence per pattern is collected in
// order. A failed match is a normal outcome, not an error.
func (r *Rule) Match(body string) ([]string, bool) {
	matched := make([]string, 0, len(r.patterns))
	for _, p := range r.patterns {
		m := p.FindString(body)
		if m == "" {
			// FindString cannot distinguish "no match" from an
			// empty match, but compiled triggers never match empty.
			return nil, false
		}
		matched = append(matched, m)
	}
	return matched, true
}

// ActiveResponses returns the active entries of one response set, in
// stored order.
func (r *Rule) ActiveResponses(kind ResponseKind) []Response {
	var active []Response
	for _, resp := range r.Responses[kind] {
		if resp.Active {
			active = append(active, resp)
		}
	}
	return active
}

// ShortDescription is a compact rendering of the trigger for rule listings.
func (r *Rule) ShortDescription() string {
	raw := []rune(r.Trigger.Raw())
	if len(raw) > 30 {
		return string(raw[:27]) + "..."
	}
	return string(raw)
}
