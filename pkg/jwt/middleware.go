package jwt

import (
	"net/http"
	"strings"
)

// TokenExtractorFunc pulls a raw token out of a request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// ErrorFunc renders an authentication failure.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Service   *Service
	Extractor TokenExtractorFunc
	OnError   ErrorFunc
}

// Middleware rejects requests without a valid bearer session token and puts
// the verified claims into the request context.
func Middleware(cfg MiddlewareConfig) func(next http.Handler) http.Handler {
	if cfg.Service == nil {
		panic("jwt: middleware requires a service")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = BearerTokenExtractor
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := cfg.Extractor(r)
			if err != nil {
				cfg.OnError(w, r, err)
				return
			}
			claims, err := cfg.Service.Verify(raw)
			if err != nil {
				cfg.OnError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaims(r.Context(), claims)))
		})
	}
}

// BearerTokenExtractor reads "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// CookieTokenExtractor reads the token from a cookie (the identity provider's
// session cookie when the dashboard calls the API from the same site).
func CookieTokenExtractor(name string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			return "", ErrMissingToken
		}
		return c.Value, nil
	}
}

// FirstOf tries extractors in order and returns the first token found.
func FirstOf(extractors ...TokenExtractorFunc) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		for _, ex := range extractors {
			if tok, err := ex(r); err == nil {
				return tok, nil
			}
		}
		return "", ErrMissingToken
	}
}
