// Package auth identifies the user behind each request to the scroll sync server.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// RFC 6750 Section 3 error codes
const (
	// errorCodeInvalidRequest indicates the request is missing a required parameter
	// or is otherwise malformed.
	errorCodeInvalidRequest = "invalid_request"

	// errorCodeInvalidToken indicates the access token is expired, malformed or invalid.
	errorCodeInvalidToken = "invalid_token"
)

const (
	defaultRealm = "scroll-sync"

	// accessTokenParam carries the token for clients that cannot set headers,
	// such as browser EventSource and WebSocket connections.
	accessTokenParam = "access_token"
)

var errMissingToken = errors.New("no bearer token in Authorization header or access_token parameter")

// tokenMiddleware authenticates requests with a Verifier
type tokenMiddleware struct {
	verifier Verifier
	realm    string
}

// NewTokenMiddleware returns middleware that rejects requests without a valid bearer token
// and stores the verified Identity in the request context.
func NewTokenMiddleware(verifier Verifier) func(http.Handler) http.Handler {
	m := &tokenMiddleware{verifier: verifier, realm: defaultRealm}
	return m.Middleware
}

// Middleware returns an HTTP middleware function that performs authentication.
func (m *tokenMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			slog.Warn("Token extraction failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, http.StatusUnauthorized, errorCodeInvalidRequest, "missing or malformed authorization header")
			return
		}

		id, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Warn("Token validation failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path)
			m.writeError(w, http.StatusUnauthorized, errorCodeInvalidToken, "token validation failed")
			return
		}

		slog.Debug("Authentication successful",
			"user_id", id.UserID,
			"remote_addr", r.RemoteAddr,
			"path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// extractToken prefers the Authorization header and falls back to the access_token query parameter
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", fmt.Errorf("authorization header must use the Bearer scheme")
		}
		return strings.TrimSpace(token), nil
	}
	if token := r.URL.Query().Get(accessTokenParam); token != "" {
		return token, nil
	}
	return "", errMissingToken
}

// anonymousMiddleware attributes every request to AnonymousUserID
func anonymousMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{UserID: AnonymousUserID, Anonymous: true}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// sanitizeHeaderValue removes characters that could enable header injection attacks.
func sanitizeHeaderValue(s string) string {
	if !strings.ContainsAny(s, "\r\n\"") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	// Escape quotes for use in quoted-string (RFC 7230)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// writeError writes a JSON error response with an RFC 6750 WWW-Authenticate header.
func (m *tokenMiddleware) writeError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s", error="%s", error_description="%s"`,
		sanitizeHeaderValue(m.realm), errCode, sanitizeHeaderValue(description)))
	w.WriteHeader(status)

	resp := struct {
		Error string `json:"error"`
	}{
		Error: description,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// WrapWithPublicPaths wraps an auth middleware so requests to publicPaths skip it.
func WrapWithPublicPaths(
	authMw func(http.Handler) http.Handler,
	publicPaths []string,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authWrappedNext := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}
			authWrappedNext.ServeHTTP(w, r)
		})
	}
}
