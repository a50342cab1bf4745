package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrPollNotFound, "poll does not exist"},
		{ErrConfigNotFound, "config not found"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
			assert.ErrorIs(t, tt.err, ErrNotFound)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), ErrNotFound)
		})
	}
}

func TestNotFoundErrors_Distinct(t *testing.T) {
	assert.False(t, errors.Is(ErrPollNotFound, ErrConfigNotFound))
	assert.False(t, errors.Is(ErrNotFound, ErrPollNotFound))
}
