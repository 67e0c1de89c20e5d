package auth

import (
	"net/http"
	"path"
	"strings"
)

// DefaultPublicPaths are reachable without a token so probes keep working.
var DefaultPublicPaths = []string{"/health", "/healthz", "/readiness", "/version"}

// IsPublicPath reports whether requestPath falls under one of publicPaths.
// Paths are cleaned before matching and matched on segment boundaries, so
// /health covers /health/live but not /healthcheck. Encoded separators are
// never public.
func IsPublicPath(requestPath string, publicPaths []string) bool {
	lowerPath := strings.ToLower(requestPath)
	if strings.Contains(lowerPath, "%2f") || strings.Contains(lowerPath, "%2e") {
		return false
	}

	cleanPath := cleanRooted(requestPath)
	for _, publicPath := range publicPaths {
		public := cleanRooted(publicPath)
		if public == "/" || cleanPath == public || strings.HasPrefix(cleanPath, public+"/") {
			return true
		}
	}
	return false
}

func cleanRooted(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// wrapWithPublicPaths applies authMw to every request outside publicPaths.
func wrapWithPublicPaths(authMw func(http.Handler) http.Handler, publicPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := authMw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}
