package httpclient_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepilot/sync-orchestrator/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		url           string
		message       string
		expectedError string
		rateLimited   bool
		authExpired   bool
	}{
		{
			name:          "not found",
			statusCode:    404,
			url:           "http://example.com",
			message:       "Not Found",
			expectedError: "HTTP 404 for URL http://example.com: Not Found",
		},
		{
			name:          "rate limited",
			statusCode:    429,
			url:           "http://api.example.com/api/orders",
			message:       "Too Many Requests",
			expectedError: "HTTP 429 for URL http://api.example.com/api/orders: Too Many Requests",
			rateLimited:   true,
		},
		{
			name:          "auth expired",
			statusCode:    401,
			url:           "http://api.example.com/api/orders",
			message:       "Unauthorized",
			expectedError: "HTTP 401 for URL http://api.example.com/api/orders: Unauthorized",
			authExpired:   true,
		},
		{
			name:          "empty message",
			statusCode:    500,
			url:           "http://example.com",
			expectedError: "HTTP 500 for URL http://example.com: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)
			require.Error(t, err)
			assert.Equal(t, tt.expectedError, err.Error())
			assert.Equal(t, tt.rateLimited, err.IsRateLimited())
			assert.Equal(t, tt.authExpired, err.IsAuthExpired())
		})
	}
}

func TestAsHTTPError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("list orders: %w", httpclient.NewHTTPError(429, "http://x", "slow down"))
	httpErr, ok := httpclient.AsHTTPError(wrapped)
	require.True(t, ok)
	assert.True(t, httpErr.IsRateLimited())

	_, ok = httpclient.AsHTTPError(fmt.Errorf("plain"))
	assert.False(t, ok)
}
