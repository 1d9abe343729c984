package types

import "context"

// Audience is an opaque handle for the set of principals who can see a
// location. It is resolved lazily by an AudienceOracle; this package never
// enumerates members.
type Audience struct {
	ChannelID string
	ServerID  string
}

// Direct reports whether the audience is a direct message channel.
func (a Audience) Direct() bool {
	return a.ServerID == ""
}

// AudienceOracle answers audience containment questions from live platform
// membership data.
type AudienceOracle interface {
	// Contains reports whether every principal who can see inner can also
	// see outer. Implementations consult current membership on every call.
	Contains(ctx context.Context, outer, inner Audience) (bool, error)
}
