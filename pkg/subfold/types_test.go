package subfold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFromProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     Status
	}{
		{"active", StatusActive},
		{"trialing", StatusActive},
		{"past_due", StatusPastDue},
		{"unpaid", StatusPastDue},
		{"canceled", StatusCanceled},
		{"incomplete", StatusCanceled},
		{"incomplete_expired", StatusCanceled},
		{"paused", StatusUnknown},
		{"", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFromProvider(tt.provider))
		})
	}
}
