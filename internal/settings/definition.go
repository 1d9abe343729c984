package settings

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// Boolean values as stored.
const (
	True  = "true"
	False = "false"
)

// Kind is the value type of a setting.
type Kind string

// Setting kinds.
const (
	KindBool Kind = "bool"
	KindEnum Kind = "enum"
)

// Definition declares a setting: its values, its default, and how scopes
// combine.
type Definition struct {
	Name    string
	Help    string
	Kind    Kind
	Choices []string
	Default string
	Rule    Combiner
}

// Registered setting names.
const (
	Learning      = "learning"
	Replies       = "replies"
	ReplyMode     = "reply_mode"
	Introductions = "introductions"
	Reactions     = "reactions"
)

// Reply modes.
const (
	ModeDelayed = "delayed"
	ModeAmbient = "ambient"
)

// Defaults returns the settings quotebot registers.
func Defaults() []Definition {
	return []Definition{
		{
			Name:    Learning,
			Help:    "learn from messages and reactions",
			Kind:    KindBool,
			Default: True,
			Rule:    BooleanAnd{},
		},
		{
			Name:    Replies,
			Help:    "reply to messages",
			Kind:    KindBool,
			Default: True,
			Rule:    BooleanAnd{},
		},
		{
			Name:    ReplyMode,
			Help:    "when to reply to messages that do not address the agent",
			Kind:    KindEnum,
			Choices: []string{ModeDelayed, ModeAmbient},
			Default: ModeDelayed,
			Rule:    OverrideChain{},
		},
		{
			Name:    Introductions,
			Help:    "send a one-time consent prompt to new authors",
			Kind:    KindBool,
			Default: False,
			Rule:    BooleanOr{},
		},
		{
			Name:    Reactions,
			Help:    "react with learned reactions alongside quotes",
			Kind:    KindBool,
			Default: True,
			Rule:    OverrideChain{},
		},
	}
}

// Normalize validates raw user input for the setting and returns the stored
// form. Errors wrap ErrInvalidValue and list the valid choices.
func (d Definition) Normalize(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch d.Kind {
	case KindBool:
		switch v {
		case "true", "yes", "on", "enabled", "enable", "1":
			return True, nil
		case "false", "no", "off", "disabled", "disable", "0":
			return False, nil
		}
	case KindEnum:
		for _, c := range d.Choices {
			if v == c {
				return c, nil
			}
		}
	}
	return "", fmt.Errorf("%w %q for %s (choose one of %s)", types.ErrInvalidValue, raw, d.Name, strings.Join(d.ValidChoices(), ", "))
}

// ValidChoices lists the values a user may set.
func (d Definition) ValidChoices() []string {
	if d.Kind == KindBool {
		return []string{True, False}
	}
	return d.Choices
}
