package agent

import (
	"regexp"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

var mentionPattern = regexp.MustCompile(`<@!?([^>\s]+)>`)

// rewriteMentions replaces user mentions in text by their replacement. Each
// mention is rewritten once; mentions without a replacement are kept.
func rewriteMentions(text string, replacements map[string]string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(mention string) string {
		id := mentionPattern.FindStringSubmatch(mention)[1]
		if r, ok := replacements[id]; ok {
			return r
		}
		return mention
	})
}

// quoteReplacements maps the people a quote talked about onto the current
// conversation: whoever the quote answered becomes the current author, the
// quote's author becomes the agent, and mentions of the agent lose their
// ping. Earlier entries win when the same person fills several roles.
func quoteReplacements(quote *types.Message, author, agentID string) map[string]string {
	r := make(map[string]string, 3)
	set := func(id, to string) {
		if id == "" {
			return
		}
		if _, ok := r[id]; !ok {
			r[id] = to
		}
	}
	set(quote.AnchorAuthorID, mention(author))
	set(quote.AuthorID, mention(agentID))
	set(agentID, "everyone")
	return r
}

func mention(id string) string {
	return "<@" + id + ">"
}
