package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// StaticAudience answers membership questions from a fixed channel table.
// Direct message channels are named "@user" and are read by that user and
// the agent.
type StaticAudience struct {
	agentID  string
	channels map[string]map[string]bool
}

var _ types.AudienceOracle = (*StaticAudience)(nil)

// NewStaticAudience builds the table from cfg.
func NewStaticAudience(cfg types.AudienceConfig, agentID string) *StaticAudience {
	s := &StaticAudience{agentID: agentID, channels: make(map[string]map[string]bool)}
	for ch, people := range cfg.Channels {
		readers := map[string]bool{agentID: true}
		for _, p := range people {
			readers[p] = true
		}
		s.channels[channelKey(ch)] = readers
	}
	return s
}

// Contains reports whether every reader of inner can read outer. Channels
// missing from the table are an error, so callers withhold.
func (s *StaticAudience) Contains(_ context.Context, outer, inner types.Audience) (bool, error) {
	outerReaders, err := s.readers(outer.ChannelID)
	if err != nil {
		return false, err
	}
	innerReaders, err := s.readers(inner.ChannelID)
	if err != nil {
		return false, err
	}
	for p := range innerReaders {
		if !outerReaders[p] {
			return false, nil
		}
	}
	return true, nil
}

func (s *StaticAudience) readers(channelID string) (map[string]bool, error) {
	if user, ok := strings.CutPrefix(channelID, "@"); ok && user != "" {
		return map[string]bool{user: true, s.agentID: true}, nil
	}
	readers, ok := s.channels[channelKey(channelID)]
	if !ok {
		return nil, fmt.Errorf("channel %q has no membership entry", channelID)
	}
	return readers, nil
}

func channelKey(ch string) string {
	return strings.TrimPrefix(ch, "#")
}
