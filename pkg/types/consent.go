package types

import (
	"fmt"
	"strings"
)

// ConsentLevel is an author's sharing preference for learned messages.
type ConsentLevel string

// Consent levels. ConsentUnset is the state before any explicit choice and is
// treated as ConsentDenied for learning and reuse.
const (
	ConsentUnset  ConsentLevel = ""
	ConsentDenied ConsentLevel = "denied"
	ConsentScoped ConsentLevel = "scoped"
	ConsentPublic ConsentLevel = "public"
)

// ConsentChoices lists the levels a user may choose, in menu order.
var ConsentChoices = []ConsentLevel{ConsentDenied, ConsentScoped, ConsentPublic}

// ParseConsent converts user input into a ConsentLevel. Returns
// ErrInvalidConsent, wrapped with the valid choices, for anything else.
func ParseConsent(s string) (ConsentLevel, error) {
	level := ConsentLevel(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range ConsentChoices {
		if level == c {
			return level, nil
		}
	}
	return ConsentUnset, fmt.Errorf("%w %q (choose one of %s)", ErrInvalidConsent, s, consentChoiceList())
}

// AllowsLearning reports whether messages by an author at this level may be
// recorded.
func (l ConsentLevel) AllowsLearning() bool {
	return l == ConsentScoped || l == ConsentPublic
}

// String returns the level name, "unset" for ConsentUnset.
func (l ConsentLevel) String() string {
	if l == ConsentUnset {
		return "unset"
	}
	return string(l)
}

// Describe returns the explanation shown in the consent menu.
func (l ConsentLevel) Describe() string {
	switch l {
	case ConsentPublic:
		return "your messages may be quoted anywhere"
	case ConsentScoped:
		return "your messages may be quoted only where everyone could already see them"
	case ConsentDenied:
		return "your messages are never learned, and learned ones are deleted"
	default:
		return "no choice made yet; nothing is learned"
	}
}

func consentChoiceList() string {
	names := make([]string, len(ConsentChoices))
	for i, c := range ConsentChoices {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
