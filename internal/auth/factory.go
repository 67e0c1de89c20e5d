package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/storepilot/sync-orchestrator/internal/config"
)

// ValidatorFactory creates the validator of one configured issuer.
type ValidatorFactory func(cfg config.TokenIssuerConfig) (TokenValidator, error)

// DefaultValidatorFactory reads the issuer's signing key and validates HMAC
// signed tokens with it.
var DefaultValidatorFactory ValidatorFactory = func(cfg config.TokenIssuerConfig) (TokenValidator, error) {
	key, err := cfg.GetSigningKey()
	if err != nil {
		return nil, err
	}
	return NewHMACValidator(key, cfg.Issuer, cfg.Audience)
}

// Middlewares are the HTTP guards built from the auth configuration.
type Middlewares struct {
	// Authenticate wraps the whole router; public paths bypass it
	Authenticate func(http.Handler) http.Handler

	// RunGuard wraps the manual run endpoint
	RunGuard func(http.Handler) http.Handler
}

// NewMiddlewares builds the guards for cfg. A nil config or anonymous mode
// lets every request through.
func NewMiddlewares(cfg *config.AuthConfig, factory ValidatorFactory) (*Middlewares, error) {
	if cfg == nil {
		slog.Info("API authentication disabled (no auth config)")
		return anonymous(), nil
	}

	switch cfg.Mode {
	case config.AuthModeAnonymous, "":
		slog.Info("API authentication disabled")
		return anonymous(), nil
	case config.AuthModeToken:
		return tokenMiddlewares(cfg, factory)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

func tokenMiddlewares(cfg *config.AuthConfig, factory ValidatorFactory) (*Middlewares, error) {
	if factory == nil {
		factory = DefaultValidatorFactory
	}
	validators := make([]NamedValidator, 0, len(cfg.Issuers))
	for _, issuer := range cfg.Issuers {
		v, err := factory(issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create validator for issuer %q: %w", issuer.Name, err)
		}
		validators = append(validators, NamedValidator{Name: issuer.Name, Validator: v})
	}

	authenticator, err := NewAuthenticator(validators, cfg.Realm)
	if err != nil {
		return nil, err
	}

	publicPaths := append(append([]string{}, DefaultPublicPaths...), cfg.PublicPaths...)
	slog.Info("API authentication enabled", "issuers", len(validators), "run_scope", cfg.RunScope)
	return &Middlewares{
		Authenticate: wrapWithPublicPaths(authenticator.Middleware, publicPaths),
		RunGuard:     authenticator.RequireScope(cfg.RunScope),
	}, nil
}

func anonymous() *Middlewares {
	return &Middlewares{Authenticate: passthrough, RunGuard: passthrough}
}

func passthrough(next http.Handler) http.Handler {
	return next
}
