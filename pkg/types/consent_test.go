package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConsent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ConsentLevel
		wantErr error
	}{
		{name: "denied", input: "denied", want: ConsentDenied},
		{name: "scoped with whitespace", input: "  scoped ", want: ConsentScoped},
		{name: "public uppercase", input: "PUBLIC", want: ConsentPublic},
		{name: "unset is not a choice", input: "", wantErr: ErrInvalidConsent},
		{name: "unknown level", input: "everyone", wantErr: ErrInvalidConsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConsent(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Contains(t, err.Error(), "denied, scoped, public")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsentAllowsLearning(t *testing.T) {
	assert.False(t, ConsentUnset.AllowsLearning())
	assert.False(t, ConsentDenied.AllowsLearning())
	assert.True(t, ConsentScoped.AllowsLearning())
	assert.True(t, ConsentPublic.AllowsLearning())
	assert.Equal(t, "unset", ConsentUnset.String())
}

func TestParseScope(t *testing.T) {
	kind, err := ParseScope("Channel")
	require.NoError(t, err)
	assert.Equal(t, ScopeChannel, kind)

	_, err = ParseScope("guild")
	assert.ErrorIs(t, err, ErrInvalidScope)

	ctx := Context{User: "u", Channel: "c", Server: "s"}
	assert.Equal(t, "u", ctx.ScopeID(ScopeUser))
	assert.Equal(t, "c", ctx.ScopeID(ScopeChannel))
	assert.Equal(t, "s", ctx.ScopeID(ScopeServer))
}
