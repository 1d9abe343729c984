package types

import (
	"fmt"
	"strings"
)

// ScopeKind is the kind of scope a setting override is attached to.
type ScopeKind string

// Scope kinds, from most to least specific.
const (
	ScopeUser    ScopeKind = "user"
	ScopeChannel ScopeKind = "channel"
	ScopeServer  ScopeKind = "server"
)

// ScopeKinds lists every scope kind from most to least specific.
var ScopeKinds = []ScopeKind{ScopeUser, ScopeChannel, ScopeServer}

// ParseScope converts user input into a ScopeKind. Returns ErrInvalidScope,
// wrapped with the valid choices, for anything else.
func ParseScope(s string) (ScopeKind, error) {
	kind := ScopeKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range ScopeKinds {
		if kind == k {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w %q (choose one of user, channel, server)", ErrInvalidScope, s)
}

// Context names the scopes a setting is resolved for. Empty fields mean the
// scope does not apply (a direct message has no Server).
type Context struct {
	User    string
	Channel string
	Server  string
}

// ScopeID returns the context's ID for the given scope kind.
func (c Context) ScopeID(kind ScopeKind) string {
	switch kind {
	case ScopeUser:
		return c.User
	case ScopeChannel:
		return c.Channel
	case ScopeServer:
		return c.Server
	}
	return ""
}

// ScopedValue is one stored override that applies to a Context.
type ScopedValue struct {
	Kind    ScopeKind
	ScopeID string
	Value   string
}

// String renders the value as "kind:id=value".
func (v ScopedValue) String() string {
	return fmt.Sprintf("%s:%s=%s", v.Kind, v.ScopeID, v.Value)
}
