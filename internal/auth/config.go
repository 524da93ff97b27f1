package auth

import (
	"path"
	"strings"
)

// DefaultPublicPaths are reachable without credentials in every mode
var DefaultPublicPaths = []string{"/health", "/readiness", "/version", "/api/health", "/metrics"}

// IsPublicPath reports whether requestPath falls under one of publicPaths.
// Paths carrying encoded separators or dots are never public, the request path is
// cleaned before matching, and matching respects segment boundaries so that
// /health covers /health/live but not /healthz.
func IsPublicPath(requestPath string, publicPaths []string) bool {
	lowerPath := strings.ToLower(requestPath)
	if strings.Contains(lowerPath, "%2f") || strings.Contains(lowerPath, "%2e") {
		return false
	}

	cleanPath := cleanAbs(requestPath)
	for _, publicPath := range publicPaths {
		p := cleanAbs(publicPath)
		if p == "/" || cleanPath == p || strings.HasPrefix(cleanPath, p+"/") {
			return true
		}
	}
	return false
}

func cleanAbs(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
