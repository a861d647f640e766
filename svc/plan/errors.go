package plan

import "errors"

var (
	ErrInvalidPlan          = errors.New("plan: invalid plan")
	ErrUnknownPriceAmount   = errors.New("plan: paid amount matches no tier")
	ErrPriceNotConfigured   = errors.New("plan: provider price id not configured")
	ErrInvalidConfiguration = errors.New("plan: invalid catalog configuration")
)
