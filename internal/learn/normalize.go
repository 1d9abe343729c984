package learn

import "strings"

// Normalizer cleans message text and recognizes command invocations.
type Normalizer struct {
	AgentID   string
	AgentName string
	Prefixes  []string
}

// Normalize trims text and strips a leading mention of the agent, so
// "@quotebot hello" and "hello" learn and retrieve alike.
func (n Normalizer) Normalize(text string) string {
	text = strings.TrimSpace(text)
	for _, mention := range n.selfMentions() {
		if len(text) >= len(mention) && strings.EqualFold(text[:len(mention)], mention) {
			text = strings.TrimSpace(strings.TrimLeft(text[len(mention):], ",:"))
			break
		}
	}
	return text
}

// IsCommand reports whether text invokes a platform command.
func (n Normalizer) IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	for _, p := range n.Prefixes {
		if p != "" && strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

func (n Normalizer) selfMentions() []string {
	var out []string
	if n.AgentID != "" {
		out = append(out, "<@"+n.AgentID+">", "<@!"+n.AgentID+">")
	}
	if n.AgentName != "" {
		out = append(out, "@"+n.AgentName)
	}
	return out
}
