package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/storepilot/sync-orchestrator/internal/auth/mocks"
)

// subjectHandler echoes the authenticated subject.
var subjectHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(Subject(r.Context())))
})

func TestNewAuthenticatorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewAuthenticator(nil, "")
	require.ErrorContains(t, err, "at least one token issuer")

	_, err = NewAuthenticator([]NamedValidator{{Name: "broken"}}, "")
	require.ErrorContains(t, err, `issuer "broken" has no validator`)
}

func TestAuthenticatorMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		authHeader  string
		setup       func(first, second *mocks.MockTokenValidator)
		wantStatus  int
		wantBody    string
		wantWWWAuth string
	}{
		{
			name:        "missing header",
			wantStatus:  http.StatusUnauthorized,
			wantWWWAuth: `error="invalid_request"`,
		},
		{
			name:        "basic auth",
			authHeader:  "Basic dXNlcjpwYXNz",
			wantStatus:  http.StatusUnauthorized,
			wantWWWAuth: `error="invalid_request"`,
		},
		{
			name:        "empty bearer",
			authHeader:  "Bearer   ",
			wantStatus:  http.StatusUnauthorized,
			wantWWWAuth: `error="invalid_request"`,
		},
		{
			name:       "first issuer accepts",
			authHeader: "Bearer good",
			setup: func(first, _ *mocks.MockTokenValidator) {
				first.EXPECT().ValidateToken(gomock.Any(), "good").Return(jwt.MapClaims{"sub": "alice"}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "alice",
		},
		{
			name:       "falls back to second issuer",
			authHeader: "bearer good",
			setup: func(first, second *mocks.MockTokenValidator) {
				first.EXPECT().ValidateToken(gomock.Any(), "good").Return(nil, errors.New("bad signature"))
				second.EXPECT().ValidateToken(gomock.Any(), "good").Return(jwt.MapClaims{"sub": "bob"}, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   "bob",
		},
		{
			name:       "all issuers reject",
			authHeader: "Bearer bad",
			setup: func(first, second *mocks.MockTokenValidator) {
				first.EXPECT().ValidateToken(gomock.Any(), "bad").Return(nil, errors.New("bad signature"))
				second.EXPECT().ValidateToken(gomock.Any(), "bad").Return(nil, errors.New("expired"))
			},
			wantStatus:  http.StatusUnauthorized,
			wantWWWAuth: `error="invalid_token"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			first := mocks.NewMockTokenValidator(ctrl)
			second := mocks.NewMockTokenValidator(ctrl)
			if tt.setup != nil {
				tt.setup(first, second)
			}

			authenticator, err := NewAuthenticator([]NamedValidator{
				{Name: "primary", Validator: first},
				{Name: "secondary", Validator: second},
			}, "")
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			authenticator.Middleware(subjectHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantWWWAuth != "" {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `realm="sync-orchestrator"`)
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), tt.wantWWWAuth)
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	t.Parallel()

	authenticator, err := NewAuthenticator([]NamedValidator{{Name: "static", Validator: staticValidator{}}}, "ops")
	require.NoError(t, err)

	tests := []struct {
		name       string
		claims     jwt.MapClaims
		scope      string
		wantStatus int
	}{
		{name: "anonymous request", scope: "schedules:run", wantStatus: http.StatusOK},
		{name: "no scope required", claims: jwt.MapClaims{}, wantStatus: http.StatusOK},
		{
			name:       "scope string grants",
			claims:     jwt.MapClaims{"scope": "schedules:read schedules:run"},
			scope:      "schedules:run",
			wantStatus: http.StatusOK,
		},
		{
			name:       "scp array grants",
			claims:     jwt.MapClaims{"scp": []any{"schedules:run"}},
			scope:      "schedules:run",
			wantStatus: http.StatusOK,
		},
		{
			name:       "scope missing",
			claims:     jwt.MapClaims{"scope": "schedules:read"},
			scope:      "schedules:run",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/schedules/1/run", nil)
			if tt.claims != nil {
				req = req.WithContext(context.WithValue(req.Context(), claimsKey{}, tt.claims))
			}
			rec := httptest.NewRecorder()
			authenticator.RequireScope(tt.scope)(subjectHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusForbidden {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)
			}
		})
	}
}

func TestSanitizeHeaderValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", sanitizeHeaderValue("plain"))
	assert.Equal(t, `a\"bc`, sanitizeHeaderValue("a\"b\r\nc"))
}

type staticValidator struct{}

func (staticValidator) ValidateToken(context.Context, string) (jwt.MapClaims, error) {
	return jwt.MapClaims{}, nil
}
