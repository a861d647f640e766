package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config selects how session tokens are verified. Exactly one of HMACSecret
// (HS256, self-issued tokens) or PublicKeyPEM (RS256, identity provider
// session tokens) must be set.
type Config struct {
	HMACSecret   string        `env:"JWT_HMAC_SECRET"`
	PublicKeyPEM string        `env:"JWT_PUBLIC_KEY_PEM"`
	Issuer       string        `env:"JWT_ISSUER"`
	Audience     string        `env:"JWT_AUDIENCE"`
	Leeway       time.Duration `env:"JWT_LEEWAY" envDefault:"5s"`
}

// Claims are the session token claims keytier relies on. Subject is the
// identity provider user id.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
}

// Service verifies (and for HS256, issues) session tokens.
type Service struct {
	method    jwt.SigningMethod
	hmacKey   []byte
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
	issuer    string
}

// New builds a Service from Config.
func New(cfg Config) (*Service, error) {
	s := &Service{issuer: cfg.Issuer}

	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, errors.Join(ErrInvalidSigningKey, err)
		}
		s.method, s.publicKey = jwt.SigningMethodRS256, key
	case cfg.HMACSecret != "":
		if len(cfg.HMACSecret) < 32 {
			return nil, fmt.Errorf("%w: HMAC secret must be at least 32 bytes", ErrInvalidSigningKey)
		}
		s.method, s.hmacKey = jwt.SigningMethodHS256, []byte(cfg.HMACSecret)
	default:
		return nil, ErrMissingSigningKey
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	s.parser = jwt.NewParser(opts...)

	return s, nil
}

// Verify parses and validates a token and returns its claims.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		if s.publicKey != nil {
			return s.publicKey, nil
		}
		return s.hmacKey, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errors.Join(ErrExpiredToken, err)
	default:
		return nil, errors.Join(ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// Issue signs an HS256 token for subject. It is used by the dev tooling and
// tests; RS256 services only verify.
func (s *Service) Issue(subject string, ttl time.Duration) (string, error) {
	if s.hmacKey == nil {
		return "", ErrSigningNotConfigured
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.hmacKey)
}
