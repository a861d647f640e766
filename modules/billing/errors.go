package billing

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/entitlement"
)

var (
	errInvalidInput        = handler.NewHTTPError(http.StatusBadRequest, "invalid_input")
	errPaymentNotCompleted = handler.NewHTTPError(http.StatusBadRequest, "payment_not_completed")
	errUnknownPriceAmount  = handler.NewHTTPError(http.StatusInternalServerError, "unknown_price_amount")
	errSetupIncomplete     = handler.NewHTTPError(http.StatusInternalServerError, "setup_incomplete")
	errSelectionInProgress = handler.NewHTTPError(http.StatusConflict, "selection_in_progress")
	errProvider            = handler.NewHTTPError(http.StatusInternalServerError, "provider_error")
)

// mapError turns entitlement and credential errors into HTTP errors. Other
// errors keep the default classification.
func mapError(err error) error {
	switch entitlement.KindOf(err) {
	case entitlement.KindInvalidInput:
		return errInvalidInput.WithMessage("%s", inputMessage(err))
	case entitlement.KindUnauthorized:
		return handler.ErrUnauthorized
	case entitlement.KindForbidden:
		return handler.ErrForbidden.WithMessage("this resource belongs to another account")
	case entitlement.KindNotFound:
		return handler.ErrNotFound.WithMessage("no subscription found")
	case entitlement.KindPaymentNotComplete:
		return errPaymentNotCompleted.WithMessage("the payment has not been completed")
	case entitlement.KindUnknownPriceAmount:
		return errUnknownPriceAmount.WithMessage("the paid amount does not match any plan, please contact support")
	case entitlement.KindSetupIncomplete:
		return errSetupIncomplete.WithMessage("we received your payment but could not finish setting up your account; retrying is safe, contact support if it keeps failing")
	case entitlement.KindConflict:
		return errSelectionInProgress.WithMessage("a plan selection is already in progress")
	case entitlement.KindProvider:
		return errProvider.WithMessage("a billing or identity provider is unavailable, please retry")
	}

	switch {
	case errors.Is(err, credential.ErrNotFound):
		return handler.ErrNotFound.WithMessage("API key not found")
	case errors.Is(err, credential.ErrInvalidArgument):
		return errInvalidInput.WithMessage("invalid API key request")
	case errors.Is(err, credential.ErrStore):
		return errProvider.WithMessage("credential store is unavailable, please retry")
	}
	return err
}

func inputMessage(err error) string {
	var step *entitlement.StepError
	if errors.As(err, &step) && step.Step == entitlement.StepVerify {
		return "unknown checkout session"
	}
	return "the request is missing or has an invalid field"
}
