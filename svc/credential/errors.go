package credential

import "errors"

var (
	ErrNotFound        = errors.New("credential: not found")
	ErrInvalidArgument = errors.New("credential: invalid argument")
	ErrKeyCollision    = errors.New("credential: api key collision")
	ErrInvalidKey      = errors.New("credential: invalid api key")
	ErrInactiveKey     = errors.New("credential: api key is inactive")
	ErrQuotaExceeded   = errors.New("credential: daily quota exceeded")
	ErrStore           = errors.New("credential: store failure")
)
