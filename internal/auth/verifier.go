package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

//go:generate mockgen -destination=mocks/mock_verifier.go -package=mocks -source=verifier.go Verifier

// Token verification errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrMissingSubject = errors.New("token has no subject")
)

// Verifier turns a bearer token into an Identity
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTOption configures a JWT verifier
type JWTOption func(*jwtVerifier)

// WithIssuer requires the iss claim to equal issuer
func WithIssuer(issuer string) JWTOption {
	return func(v *jwtVerifier) {
		v.issuer = issuer
	}
}

// WithAudience requires audience to be listed in the aud claim
func WithAudience(audience string) JWTOption {
	return func(v *jwtVerifier) {
		v.audience = audience
	}
}

type jwtVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTVerifier returns a Verifier for HS256 tokens signed with secret
func NewJWTVerifier(secret string, opts ...JWTOption) (Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	v := &jwtVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *jwtVerifier) Verify(_ context.Context, token string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.parserOptions()...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return Identity{}, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return Identity{}, ErrMissingSubject
	}
	return Identity{UserID: claims.Subject}, nil
}

func (v *jwtVerifier) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	return opts
}
