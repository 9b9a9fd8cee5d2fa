package responder

import (
	"strings"
)

// zeroWidthSpace breaks Slack's mention parsing without changing how the
// text reads.
const zeroWidthSpace = "​"

// DefangMentions neutralizes user, channel and broadcast mentions so that
// relayed text cannot ping anyone. Transports use it to honor
// SendOptions.SuppressMentions.
func DefangMentions(s string) string {
	s = strings.Replace(s, "@", "@"+zeroWidthSpace, -1)
	s = strings.Replace(s, "<!", "<"+zeroWidthSpace+"!", -1)
	return s
}

// formatContext carries the values substituted into a response template.
type formatContext struct {
	authorMention string
	channelRef    string
	permalink     string
	content       string
	matched       []string
}

// formatResponse substitutes the template placeholders into text. The
// origin content is defanged so quoted text cannot produce mass mentions.
func formatResponse(text string, fc formatContext) string {
	replacer := strings.NewReplacer(
		"{author}", fc.authorMention,
		"{channel}", fc.channelRef,
		"{link}", fc.permalink,
		"{content}", DefangMentions(fc.content),
		"{matched}", strings.Join(fc.matched, ", "),
	)
	return replacer.Replace(text)
}

// bulletList renders multiple responses as one message. A single response
// is returned as-is.
func bulletList(responses []Response) string {
	if len(responses) == 1 {
		return responses[0].Text
	}
	lines := make([]string, 0, len(responses))
	for _, resp := range responses {
		lines = append(lines, "• "+resp.Text)
	}
	return strings.Join(lines, "\n")
}

// elide shortens s to at most max runes, ending with an ellipsis.
func elide(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
