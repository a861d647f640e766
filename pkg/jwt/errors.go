package jwt

import "errors"

var (
	ErrInvalidToken         = errors.New("jwt: invalid token")
	ErrExpiredToken         = errors.New("jwt: token is expired")
	ErrMissingToken         = errors.New("jwt: missing bearer token")
	ErrMissingSigningKey    = errors.New("jwt: missing signing key")
	ErrInvalidSigningKey    = errors.New("jwt: invalid signing key")
	ErrMissingSubject       = errors.New("jwt: token has no subject")
	ErrSigningNotConfigured = errors.New("jwt: service can only verify tokens")
)
