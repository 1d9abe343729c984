// Package timing decides when, and whether, the agent answers a message, and
// runs each channel's pending reply on its own goroutine.
package timing

import (
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/mesh-intelligence/quotebot/internal/settings"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// State is a step of the reply state machine.
type State string

// Reply states. Idle and Deciding are transient; the other three are final.
const (
	Idle       State = "idle"
	Deciding   State = "deciding"
	Immediate  State = "immediate"
	Delayed    State = "delayed"
	Suppressed State = "suppressed"
	Cancelled  State = "cancelled"
)

// Trigger describes the incoming message the decision is about.
type Trigger struct {
	Direct       bool   // Arrived in a direct message channel.
	Mentioned    bool   // Mentions the agent.
	ReplyToAgent bool   // Explicit reply to one of the agent's messages.
	ChannelName  string // Matched against the always-respond pattern.
	Mode         string // settings.ModeDelayed or settings.ModeAmbient.
	Learned      int    // Messages learned so far, for the ambient trial.
	Participants int    // Distinct recent humans in the channel.
}

// Decision is the outcome of Decide.
type Decision struct {
	State State
	Delay time.Duration // Wait before answering, for Delayed.
	Floor float64       // Minimum confidence a quote needs to be sent.
}

// Policy holds the timing rules and every channel's arrival average. It is
// safe for concurrent use.
type Policy struct {
	cfg    types.TimingConfig
	always *regexp.Regexp
	rand   func() float64

	mu   sync.Mutex
	emas map[string]*EMA
}

// NewPolicy creates a policy. alwaysRespond is a regular expression matched
// against channel names; empty disables it. rand returns values in [0, 1).
func NewPolicy(cfg types.TimingConfig, alwaysRespond string, rand func() float64) (*Policy, error) {
	p := &Policy{cfg: cfg, rand: rand, emas: make(map[string]*EMA)}
	if alwaysRespond != "" {
		re, err := regexp.Compile(alwaysRespond)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrAlwaysRespondInvalid, err)
		}
		p.always = re
	}
	return p, nil
}

// Observe records a message arrival in the channel.
func (p *Policy) Observe(channelID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.emas[channelID]
	if !ok {
		e = NewEMA(p.cfg.EMAAlpha)
		p.emas[channelID] = e
	}
	e.Observe(at)
}

// Forget drops the channel's arrival average.
func (p *Policy) Forget(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.emas, channelID)
}

// Decide chooses how to answer t in the channel. Direct address always
// answers immediately with the relaxed floor.
func (p *Policy) Decide(channelID string, t Trigger) Decision {
	if p.addressed(t) {
		return Decision{State: Immediate, Floor: p.cfg.ImmediateFloor}
	}
	if t.Mode == settings.ModeAmbient {
		if p.rand() < AmbientProbability(t.Learned, t.Participants, p.cfg.AmbientScale) {
			return Decision{State: Immediate, Floor: p.cfg.DelayedFloor}
		}
		return Decision{State: Suppressed}
	}
	return Decision{State: Delayed, Delay: p.Delay(channelID), Floor: p.cfg.DelayedFloor}
}

// Delay is the scaled arrival average of the channel, clamped to the
// configured bounds. A channel without history counts as quiet.
func (p *Policy) Delay(channelID string) time.Duration {
	p.mu.Lock()
	e, ok := p.emas[channelID]
	var mean time.Duration
	if ok {
		mean, ok = e.Mean()
	}
	p.mu.Unlock()
	if !ok {
		return p.cfg.MaxDelay
	}
	d := time.Duration(float64(mean) * p.cfg.EMAScale)
	return min(max(d, p.cfg.MinDelay), p.cfg.MaxDelay)
}

// Accept reports whether a quote with the given confidence clears d's floor.
func (d Decision) Accept(confidence float64) bool {
	return confidence > 0 && confidence >= d.Floor
}

func (p *Policy) addressed(t Trigger) bool {
	if t.Direct || t.Mentioned || t.ReplyToAgent {
		return true
	}
	return p.always != nil && t.ChannelName != "" && p.always.MatchString(t.ChannelName)
}

// AmbientProbability grows toward 1 as more messages are learned and is
// shared among the channel's recent participants.
func AmbientProbability(learned, participants int, scale float64) float64 {
	if learned <= 0 || scale <= 0 {
		return 0
	}
	return (1 - math.Exp(-float64(learned)/scale)) / float64(max(1, participants))
}
