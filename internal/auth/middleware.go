// Package auth authenticates requests to the orchestrator HTTP API with
// signed JWT bearer tokens.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errAllIssuersFailed = errors.New("no issuer accepted the token")
	errMissingToken     = errors.New("missing or malformed authorization header")
)

// RFC 6750 error codes.
const (
	errorCodeInvalidRequest    = "invalid_request"
	errorCodeInvalidToken      = "invalid_token"
	errorCodeInsufficientScope = "insufficient_scope"
)

const defaultRealm = "sync-orchestrator"

type claimsKey struct{}

// ClaimsFromContext returns the claims of the authenticated request, if any.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

// Subject returns the subject of the authenticated request, or "".
func Subject(ctx context.Context) string {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// NamedValidator pairs a validator with the issuer name used in logs.
type NamedValidator struct {
	Name      string
	Validator TokenValidator
}

type validationResult struct {
	issuer string
	claims jwt.MapClaims
	err    error
}

// Authenticator checks bearer tokens against a list of issuers in order.
type Authenticator struct {
	validators []NamedValidator
	realm      string
}

// NewAuthenticator creates an Authenticator. An empty realm uses the default.
func NewAuthenticator(validators []NamedValidator, realm string) (*Authenticator, error) {
	if len(validators) == 0 {
		return nil, errors.New("at least one token issuer must be configured")
	}
	for _, v := range validators {
		if v.Validator == nil {
			return nil, fmt.Errorf("issuer %q has no validator", v.Name)
		}
	}
	if realm == "" {
		realm = defaultRealm
	}
	return &Authenticator{validators: slices.Clone(validators), realm: realm}, nil
}

// Middleware rejects requests without a valid token and stores the claims of
// accepted ones in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r)
		if err != nil {
			slog.WarnContext(r.Context(), "Token extraction failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			a.writeError(w, http.StatusUnauthorized, errorCodeInvalidRequest, errMissingToken.Error())
			return
		}

		result := a.validate(r.Context(), token)
		if result.err != nil {
			slog.WarnContext(r.Context(), "Token validation failed",
				"error", result.err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			a.writeError(w, http.StatusUnauthorized, errorCodeInvalidToken, "token validation failed")
			return
		}

		slog.DebugContext(r.Context(), "Authentication successful",
			"issuer", result.issuer,
			"subject", result.claims["sub"],
			"path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, result.claims)))
	})
}

// RequireScope rejects authenticated requests whose token lacks scope.
// Requests that carry no claims pass, so anonymous mode is unaffected.
func (a *Authenticator) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok && scope != "" && !slices.Contains(ExtractScopes(claims), scope) {
				a.writeError(w, http.StatusForbidden, errorCodeInsufficientScope,
					fmt.Sprintf("token lacks the %s scope", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) validate(ctx context.Context, token string) validationResult {
	var errs []error
	for _, nv := range a.validators {
		claims, err := nv.Validator.ValidateToken(ctx, token)
		if err != nil {
			slog.DebugContext(ctx, "Issuer rejected token", "issuer", nv.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", nv.Name, err))
			continue
		}
		return validationResult{issuer: nv.Name, claims: claims}
	}
	return validationResult{err: fmt.Errorf("%w: %w", errAllIssuersFailed, errors.Join(errs...))}
}

// ExtractScopes reads the space separated "scope" claim, or the "scp" array.
func ExtractScopes(claims jwt.MapClaims) []string {
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		return strings.Fields(scope)
	}
	if scp, ok := claims["scp"].([]any); ok {
		scopes := make([]string, 0, len(scp))
		for _, s := range scp {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	return nil
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

// sanitizeHeaderValue strips characters that would break out of a quoted
// header parameter.
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, `"`, `\"`)
}

func (a *Authenticator) writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(a.realm), errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(status)

	resp := struct {
		Error string `json:"error"`
	}{Error: description}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
