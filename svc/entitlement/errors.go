package entitlement

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

var (
	ErrInvalidInput              = errors.New("entitlement: invalid input")
	ErrUnauthorized              = errors.New("entitlement: unauthorized")
	ErrForbidden                 = errors.New("entitlement: forbidden")
	ErrNotFound                  = errors.New("entitlement: not found")
	ErrPaymentNotCompleted       = errors.New("entitlement: payment not completed")
	ErrUnknownPriceAmount        = errors.New("entitlement: paid amount matches no plan")
	ErrProvider                  = errors.New("entitlement: provider failure")
	ErrPaymentVerificationFailed = errors.New("entitlement: payment verification failed")
	ErrSetupIncomplete           = errors.New("entitlement: payment received but setup incomplete")
	ErrSelectionInProgress       = errors.New("entitlement: plan selection already in progress")
)

// Kind classifies an error for callers deciding how to respond or retry.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindPaymentNotComplete Kind = "payment_not_completed"
	KindUnknownPriceAmount Kind = "unknown_price_amount"
	KindSetupIncomplete    Kind = "setup_incomplete"
	KindConflict           Kind = "conflict"
	KindProvider           Kind = "provider_error"
	KindInternal           Kind = "internal"
)

// Retryable reports whether repeating the same call may succeed.
func (k Kind) Retryable() bool {
	return k == KindProvider || k == KindSetupIncomplete || k == KindConflict
}

// KindOf maps err onto the taxonomy. Setup failures after a captured payment
// take precedence over the cause that produced them.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSetupIncomplete):
		return KindSetupIncomplete
	case errors.Is(err, ErrSelectionInProgress):
		return KindConflict
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrPaymentNotCompleted):
		return KindPaymentNotComplete
	case errors.Is(err, ErrUnknownPriceAmount):
		return KindUnknownPriceAmount
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrProvider):
		return KindProvider
	}
	return KindInternal
}

// Step names a stage of a multi-step flow.
type Step string

const (
	StepVerify     Step = "verify_checkout"
	StepBind       Step = "bind_customer"
	StepSetPlan    Step = "set_plan"
	StepCredential Step = "provision_credential"
	StepCheckout   Step = "create_checkout"
	StepLookup     Step = "lookup_subscription"
	StepCancel     Step = "cancel_subscription"
	StepDowngrade  Step = "downgrade"
	StepDelete     Step = "delete_account"
)

// StepError records which step of a flow failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// StepOf returns the failed step recorded in err, if any.
func StepOf(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

func stepErr(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: classify(err)}
}

// classify attaches the taxonomy sentinel matching an adapter error. Errors
// already carrying a sentinel are returned unchanged.
func classify(err error) error {
	if err == nil || KindOf(err) != KindInternal {
		return err
	}
	switch {
	case errors.Is(err, billing.ErrInvalidArgument),
		errors.Is(err, billing.ErrInvalidPlan),
		errors.Is(err, plan.ErrInvalidPlan),
		errors.Is(err, identity.ErrInvalidArgument),
		errors.Is(err, credential.ErrInvalidArgument):
		return errors.Join(ErrInvalidInput, err)
	case errors.Is(err, billing.ErrForbidden):
		return errors.Join(ErrForbidden, err)
	case errors.Is(err, billing.ErrNotFound),
		errors.Is(err, binding.ErrUnbound),
		errors.Is(err, credential.ErrNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, billing.ErrPaymentNotCompleted):
		return errors.Join(ErrPaymentNotCompleted, err)
	case errors.Is(err, billing.ErrUnknownPriceAmount):
		return errors.Join(ErrUnknownPriceAmount, err)
	case errors.Is(err, billing.ErrProvider),
		errors.Is(err, identity.ErrProvider),
		errors.Is(err, credential.ErrStore):
		return errors.Join(ErrProvider, err)
	}
	return err
}
