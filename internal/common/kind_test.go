package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKind(t *testing.T) {
	tests := []struct {
		kind string
		ok   bool
	}{
		{"animals", true},
		{"milk_yields", true},
		{"a1", true},
		{strings.Repeat("a", 63), true},
		{strings.Repeat("a", 64), false},
		{"", false},
		{"1animals", false},
		{"Animals", false},
		{"lots;drop", false},
		{"_hidden", false},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			err := ValidateKind(tt.kind)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidKind)
		})
	}
}
