// Package jwt authenticates dashboard requests with identity provider session
// tokens using github.com/golang-jwt/jwt/v5.
//
// Tokens are verified either with an RS256 public key (the identity
// provider's networkless verification key) or with an HS256 shared secret.
// The token subject is the user id that every entitlement flow is keyed on;
// Middleware stores the claims in the request context and UserID reads it back.
package jwt
