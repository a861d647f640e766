package jwt

import "context"

type contextKey struct{ name string }

var claimsContextKey = &contextKey{name: "jwt_claims"}

// SetClaims stores verified claims in ctx.
func SetClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims returns the verified claims stored by the middleware.
func GetClaims(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*Claims)
	return c, ok && c != nil
}

// UserID returns the authenticated user id (the token subject).
func UserID(ctx context.Context) (string, bool) {
	c, ok := GetClaims(ctx)
	if !ok {
		return "", false
	}
	return c.Subject, c.Subject != ""
}
