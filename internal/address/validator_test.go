package address

import (
	"strings"
	"testing"

	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator_Defaults(t *testing.T) {
	v := NewValidator(0, 0, "")
	assert.Equal(t, DefaultMinLength, v.MinLength)
	assert.Equal(t, DefaultMaxLength, v.MaxLength)
	assert.Empty(t, v.Prefix)
}

func TestValidate_Accepts(t *testing.T) {
	v := NewValidator(0, 0, "")

	for _, addr := range []string{"addr", "creator", "cosmos1abc", "a-b_c", strings.Repeat("x", 64)} {
		got, err := v.Validate(addr)
		require.NoError(t, err, addr)
		assert.Equal(t, addr, got)
	}
}

func TestValidate_Rejects(t *testing.T) {
	v := NewValidator(0, 0, "")

	tests := []struct {
		name string
		addr string
		want string
	}{
		{"empty", "", "shorter than 3"},
		{"too short", "ab", "shorter than 3"},
		{"too long", strings.Repeat("x", 65), "longer than 64"},
		{"uppercase", "Addr", "invalid character"},
		{"space", "ad dr", "whitespace"},
		{"tab", "addr\t", "whitespace"},
		{"punctuation", "addr!", "invalid character"},
		{"non ascii", "adrés", "invalid character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.addr)
			require.ErrorIs(t, err, domain.ErrInvalidAddress)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_Prefix(t *testing.T) {
	v := NewValidator(0, 0, "cosmos1")

	_, err := v.Validate("cosmos1abc")
	require.NoError(t, err)

	_, err = v.Validate("osmo1abc")
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Contains(t, err.Error(), `missing prefix "cosmos1"`)
}
