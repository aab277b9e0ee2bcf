package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrapped unauthorized", fmt.Errorf("vault 1: %w", ErrUnauthorized), "UNAUTHORIZED"},
		{"double wrapped cap", fmt.Errorf("borrow: %w", fmt.Errorf("mint window: %w", ErrCapExceeded)), "CAP_EXCEEDED"},
		{"bare sentinel", ErrNotLiquidatable, "NOT_LIQUIDATABLE"},
		{"foreign error", errors.New("disk full"), "INTERNAL"},
		{"nil", nil, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestIsProtocol(t *testing.T) {
	assert.True(t, IsProtocol(fmt.Errorf("x: %w", ErrInvalidConfig)))
	assert.False(t, IsProtocol(errors.New("boom")))
}
