// Package address validates admin identity strings.
package address

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pscheid92/pollbook/internal/domain"
)

const (
	DefaultMinLength = 3
	DefaultMaxLength = 64
)

// Validator accepts lowercase identities made of ASCII letters, digits, '-'
// and '_', optionally required to start with Prefix.
type Validator struct {
	MinLength int
	MaxLength int
	Prefix    string
}

var _ domain.AddressValidator = Validator{}

func NewValidator(minLength, maxLength int, prefix string) Validator {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return Validator{MinLength: minLength, MaxLength: maxLength, Prefix: prefix}
}

// Validate returns the address unchanged when it is well formed. Rejections
// wrap domain.ErrInvalidAddress.
func (v Validator) Validate(addr string) (string, error) {
	if len(addr) < v.MinLength {
		return "", fmt.Errorf("%w: shorter than %d characters", domain.ErrInvalidAddress, v.MinLength)
	}
	if len(addr) > v.MaxLength {
		return "", fmt.Errorf("%w: longer than %d characters", domain.ErrInvalidAddress, v.MaxLength)
	}
	if v.Prefix != "" && !strings.HasPrefix(addr, v.Prefix) {
		return "", fmt.Errorf("%w: missing prefix %q", domain.ErrInvalidAddress, v.Prefix)
	}

	for i, r := range addr {
		switch {
		case unicode.IsSpace(r):
			return "", fmt.Errorf("%w: whitespace at position %d", domain.ErrInvalidAddress, i)
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return "", fmt.Errorf("%w: invalid character %q at position %d", domain.ErrInvalidAddress, r, i)
		}
	}

	return addr, nil
}
