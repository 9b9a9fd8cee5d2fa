package responder

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TriggerSpec is the parsed shape of a trigger: either a literal string or
// a conjunction of alternation groups. With a conjunction, every group must
// be satisfied by at least one of its alternatives for the rule to fire.
type TriggerSpec struct {
	Literal string
	Groups  [][]string
}

// IsLiteral reports whether the trigger is a plain string.
func (t TriggerSpec) IsLiteral() bool {
	return t.Groups == nil
}

// Raw returns the trigger in its authored form.
func (t TriggerSpec) Raw() string {
	if t.IsLiteral() {
		return t.Literal
	}
	parts := make([]string, 0, len(t.Groups))
	for _, group := range t.Groups {
		if len(group) == 1 {
			parts = append(parts, fmt.Sprintf("%q", group[0]))
			continue
		}
		alts := make([]string, 0, len(group))
		for _, alt := range group {
			alts = append(alts, fmt.Sprintf("%q", alt))
		}
		parts = append(parts, "["+strings.Join(alts, ", ")+"]")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ErrEmptyTrigger is returned when a trigger has no usable text.
var ErrEmptyTrigger = errors.New("trigger is empty")

// ParseTrigger parses an authored trigger string. Anything that looks like
// a JSON array is parsed as a conjunction of AND-terms where a nested array
// is an OR of synonyms; single-quoted input is repaired to valid JSON first.
// Everything else is a literal trigger.
func ParseTrigger(raw string) (TriggerSpec, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TriggerSpec{}, ErrEmptyTrigger
	}

	if !strings.HasPrefix(trimmed, "[") {
		return TriggerSpec{Literal: trimmed}, nil
	}

	var terms []interface{}
	if err := json.Unmarshal([]byte(trimmed), &terms); err != nil {
		repaired := strings.Replace(trimmed, "'", `"`, -1)
		if err := json.Unmarshal([]byte(repaired), &terms); err != nil {
			return TriggerSpec{}, fmt.Errorf("trigger looks like a list but is not valid JSON: %v", err)
		}
	}
	if len(terms) == 0 {
		return TriggerSpec{}, ErrEmptyTrigger
	}

	groups := make([][]string, 0, len(terms))
	for _, term := range terms {
		switch v := term.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return TriggerSpec{}, ErrEmptyTrigger
			}
			groups = append(groups, []string{v})
		case []interface{}:
			if len(v) == 0 {
				return TriggerSpec{}, ErrEmptyTrigger
			}
			group := make([]string, 0, len(v))
			for _, alt := range v {
				s, ok := alt.(string)
				if !ok {
					return TriggerSpec{}, fmt.Errorf("trigger alternative %v is not a string", alt)
				}
				if strings.TrimSpace(s) == "" {
					return TriggerSpec{}, ErrEmptyTrigger
				}
				group = append(group, s)
			}
			groups = append(groups, group)
		default:
			return TriggerSpec{}, fmt.Errorf("trigger term %v is not a string or list", term)
		}
	}
	return TriggerSpec{Groups: groups}, nil
}

var escapedSpaceRE = regexp.MustCompile(`(?:\s)+`)

// quotePattern escapes literal text for matching and lets runs of
// whitespace in the authored text match any whitespace in the message.
func quotePattern(text string) string {
	quoted := regexp.QuoteMeta(text)
	return escapedSpaceRE.ReplaceAllString(quoted, `\s+`)
}

// Compile turns a parsed trigger into its ordered match patterns. All
// returned patterns must match for the rule to fire. FlagFullMatch anchors
// a literal trigger to the whole message; on a conjunction it word-bounds
// each alternative instead. Matching is case insensitive unless
// FlagMatchCase is set.
func Compile(spec TriggerSpec, flags Flags) ([]*regexp.Regexp, error) {
	prefix := "(?is)"
	if flags.Has(FlagMatchCase) {
		prefix = "(?s)"
	}

	if spec.IsLiteral() {
		if spec.Literal == "" {
			return nil, ErrEmptyTrigger
		}
		pattern := quotePattern(spec.Literal)
		if flags.Has(FlagFullMatch) {
			pattern = `\A` + pattern + `\z`
		}
		re, err := regexp.Compile(prefix + pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling trigger %q: %v", spec.Literal, err)
		}
		return []*regexp.Regexp{re}, nil
	}

	patterns := make([]*regexp.Regexp, 0, len(spec.Groups))
	for _, group := range spec.Groups {
		alts := make([]string, 0, len(group))
		for _, alt := range group {
			p := quotePattern(alt)
			if flags.Has(FlagFullMatch) {
				p = `\b` + p + `\b`
			}
			alts = append(alts, p)
		}
		re, err := regexp.Compile(prefix + "(?:" + strings.Join(alts, "|") + ")")
		if err != nil {
			return nil, fmt.Errorf("compiling trigger group %v: %v", group, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
