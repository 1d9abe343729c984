package settings

import "github.com/mesh-intelligence/quotebot/pkg/types"

// Combiner folds the overrides that apply to a context into one value.
// values arrive most specific first (user, channel, server). ok is false
// when no override decides and the declared default applies.
type Combiner interface {
	Name() string
	Combine(values []types.ScopedValue) (value string, contributors []types.ScopedValue, ok bool)
}

// OverrideChain lets the most specific override win.
type OverrideChain struct{}

// Name returns "override-chain".
func (OverrideChain) Name() string { return "override-chain" }

// Combine returns the first value.
func (OverrideChain) Combine(values []types.ScopedValue) (string, []types.ScopedValue, bool) {
	if len(values) == 0 {
		return "", nil, false
	}
	return values[0].Value, values[:1], true
}

// BooleanAnd requires every present scope to allow the behaviour. Absent
// scopes count as true.
type BooleanAnd struct{}

// Name returns "boolean-and".
func (BooleanAnd) Name() string { return "boolean-and" }

// Combine returns "false" naming every scope that denies, or "true" naming
// every scope that allows.
func (BooleanAnd) Combine(values []types.ScopedValue) (string, []types.ScopedValue, bool) {
	return combineBool(values, False)
}

// BooleanOr lets any present scope enable the behaviour. Absent scopes
// count as false.
type BooleanOr struct{}

// Name returns "boolean-or".
func (BooleanOr) Name() string { return "boolean-or" }

// Combine returns "true" naming every scope that enables, or "false"
// naming every scope that disables.
func (BooleanOr) Combine(values []types.ScopedValue) (string, []types.ScopedValue, bool) {
	return combineBool(values, True)
}

// combineBool returns absorbing as soon as any value equals it, otherwise
// the identity. Contributors are the values that match the result.
func combineBool(values []types.ScopedValue, absorbing string) (string, []types.ScopedValue, bool) {
	if len(values) == 0 {
		return "", nil, false
	}
	var hits, rest []types.ScopedValue
	for _, v := range values {
		if v.Value == absorbing {
			hits = append(hits, v)
		} else {
			rest = append(rest, v)
		}
	}
	if len(hits) > 0 {
		return absorbing, hits, true
	}
	identity := True
	if absorbing == True {
		identity = False
	}
	return identity, rest, true
}
