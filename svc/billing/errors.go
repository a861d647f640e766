package billing

import "errors"

var (
	ErrInvalidArgument     = errors.New("billing: invalid argument")
	ErrInvalidPlan         = errors.New("billing: invalid plan")
	ErrPaymentNotCompleted = errors.New("billing: payment not completed")
	ErrUnknownPriceAmount  = errors.New("billing: paid amount matches no plan")
	ErrNotFound            = errors.New("billing: not found")
	ErrForbidden           = errors.New("billing: subscription belongs to another customer")
	ErrProvider            = errors.New("billing: provider request failed")
	ErrInvalidSignature    = errors.New("billing: invalid webhook signature")
	ErrUnsupportedProvider = errors.New("billing: unsupported provider")
)
