package identity

import "errors"

var (
	ErrUserNotFound    = errors.New("identity: user not found")
	ErrInvalidArgument = errors.New("identity: invalid argument")
	ErrProvider        = errors.New("identity: provider request failed")
	ErrMalformed       = errors.New("identity: malformed metadata")
)
