package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamErrorClassification(t *testing.T) {
	cases := []struct {
		status      int
		rateLimited bool
		payment     bool
	}{
		{429, true, false},
		{402, false, true},
		{500, false, false},
		{400, false, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			err := fmt.Errorf("stream model: %w", &UpstreamError{StatusCode: tc.status, Body: `{"error":"x"}`})
			assert.Equal(t, tc.rateLimited, errors.Is(err, ErrRateLimited))
			assert.Equal(t, tc.payment, errors.Is(err, ErrPaymentRequired))

			var ue *UpstreamError
			assert.True(t, errors.As(err, &ue))
			assert.Equal(t, tc.status, ue.StatusCode)
			assert.Contains(t, err.Error(), `{"error":"x"}`)
		})
	}
}
