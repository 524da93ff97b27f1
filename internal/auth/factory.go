package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stacklok/scroll-sync-server/internal/config"
)

// NewAuthMiddleware builds the authentication middleware for cfg. Public paths,
// including DefaultPublicPaths, are exempt in every mode.
func NewAuthMiddleware(cfg *config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		slog.Info("auth: anonymous mode (no auth config)")
		return anonymousMiddleware, nil
	}

	var mw func(http.Handler) http.Handler
	switch cfg.GetMode() {
	case config.AuthModeAnonymous:
		slog.Info("auth: anonymous mode")
		mw = anonymousMiddleware
	case config.AuthModeJWT:
		verifier, err := newJWTVerifierFromConfig(cfg.JWT)
		if err != nil {
			return nil, err
		}
		slog.Info("auth: JWT mode")
		mw = NewTokenMiddleware(verifier)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	publicPaths := append(append([]string{}, DefaultPublicPaths...), cfg.PublicPaths...)
	return WrapWithPublicPaths(mw, publicPaths), nil
}

func newJWTVerifierFromConfig(cfg *config.JWTConfig) (Verifier, error) {
	secret, err := cfg.GetSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to load JWT secret: %w", err)
	}

	var opts []JWTOption
	if cfg != nil && cfg.Issuer != "" {
		opts = append(opts, WithIssuer(cfg.Issuer))
	}
	if cfg != nil && cfg.Audience != "" {
		opts = append(opts, WithAudience(cfg.Audience))
	}
	return NewJWTVerifier(secret, opts...)
}
