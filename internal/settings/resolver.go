// Package settings resolves named settings across user, channel, and server
// scopes. Each setting declares a default and a combination rule; every
// resolution carries a trace naming the scopes that decided it.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// ScopeTrace is one line of a resolution trace.
type ScopeTrace struct {
	Kind        types.ScopeKind
	ID          string // Empty when the scope does not apply.
	Value       string // Empty when no override is stored.
	Set         bool
	Contributed bool
}

// Resolution is an effective value and how it was reached.
type Resolution struct {
	Name        string
	Value       string
	Rule        string
	FromDefault bool
	Scopes      []ScopeTrace
	Explanation string
}

// Resolver resolves and writes settings.
type Resolver struct {
	backend types.SettingsBackend
	defs    map[string]Definition
	names   []string
}

// NewResolver creates a resolver for defs over backend.
func NewResolver(backend types.SettingsBackend, defs []Definition) *Resolver {
	r := &Resolver{backend: backend, defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r
}

// Definition returns the named definition. Unknown names return an error
// wrapping ErrUnknownSetting that lists the known names.
func (r *Resolver) Definition(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w %q (choose one of %s)", types.ErrUnknownSetting, name, strings.Join(r.names, ", "))
	}
	return d, nil
}

// Definitions returns every definition sorted by name.
func (r *Resolver) Definitions() []Definition {
	out := make([]Definition, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.defs[n])
	}
	return out
}

// Effective resolves name for c.
func (r *Resolver) Effective(ctx context.Context, name string, c types.Context) (Resolution, error) {
	d, err := r.Definition(name)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Name: name, Rule: d.Rule.Name()}
	var present []types.ScopedValue
	for _, kind := range types.ScopeKinds {
		id := c.ScopeID(kind)
		st := ScopeTrace{Kind: kind, ID: id}
		if id != "" {
			value, ok, err := r.backend.GetSetting(ctx, name, kind, id)
			if err != nil {
				return Resolution{}, fmt.Errorf("resolving %s: %w", name, err)
			}
			if ok {
				st.Value, st.Set = value, true
				present = append(present, types.ScopedValue{Kind: kind, ScopeID: id, Value: value})
			}
		}
		res.Scopes = append(res.Scopes, st)
	}

	value, contributors, ok := d.Rule.Combine(present)
	if !ok {
		value = d.Default
		res.FromDefault = true
	}
	res.Value = value
	for i := range res.Scopes {
		for _, cv := range contributors {
			if res.Scopes[i].Kind == cv.Kind && res.Scopes[i].ID == cv.ScopeID {
				res.Scopes[i].Contributed = true
			}
		}
	}
	res.Explanation = explain(res, d)
	return res, nil
}

// Bool resolves a boolean setting.
func (r *Resolver) Bool(ctx context.Context, name string, c types.Context) (bool, error) {
	res, err := r.Effective(ctx, name, c)
	if err != nil {
		return false, err
	}
	return res.Value == True, nil
}

// Set writes an override for exactly (name, kind, scopeID).
func (r *Resolver) Set(ctx context.Context, name string, kind types.ScopeKind, scopeID, raw string) (string, error) {
	d, err := r.Definition(name)
	if err != nil {
		return "", err
	}
	if _, err := types.ParseScope(string(kind)); err != nil {
		return "", err
	}
	if scopeID == "" {
		return "", fmt.Errorf("%w: %s scope needs an id", types.ErrInvalidScope, kind)
	}
	value, err := d.Normalize(raw)
	if err != nil {
		return "", err
	}
	if err := r.backend.PutSetting(ctx, name, kind, scopeID, value); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return value, nil
}

// Unset removes the override for exactly (name, kind, scopeID).
func (r *Resolver) Unset(ctx context.Context, name string, kind types.ScopeKind, scopeID string) error {
	if _, err := r.Definition(name); err != nil {
		return err
	}
	if _, err := types.ParseScope(string(kind)); err != nil {
		return err
	}
	if err := r.backend.DeleteSetting(ctx, name, kind, scopeID); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// explain renders the trace shown to users.
func explain(res Resolution, d Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s = %s (%s)\n", res.Name, res.Value, res.Rule)
	for _, st := range res.Scopes {
		switch {
		case st.ID == "":
			fmt.Fprintf(&b, "  %-8s n/a\n", st.Kind)
		case !st.Set:
			fmt.Fprintf(&b, "  %-8s %s: not set\n", st.Kind, st.ID)
		case st.Contributed:
			fmt.Fprintf(&b, "  %-8s %s: %s  <- decides\n", st.Kind, st.ID, st.Value)
		default:
			fmt.Fprintf(&b, "  %-8s %s: %s\n", st.Kind, st.ID, st.Value)
		}
	}
	if res.FromDefault {
		fmt.Fprintf(&b, "  %-8s %s  <- decides\n", "default", d.Default)
	} else {
		fmt.Fprintf(&b, "  %-8s %s\n", "default", d.Default)
	}
	return strings.TrimRight(b.String(), "\n")
}
