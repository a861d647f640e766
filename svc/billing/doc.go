// Package billing is a thin typed wrapper over the payment provider.
//
// Gateway covers what the entitlement flows need: hosted checkout creation and
// verification, subscription listing and retrieval, ownership-checked
// cancellation at period end, customer lookup by user tag, and webhook
// verification. StripeGateway and PaddleGateway talk to the real providers;
// MemoryGateway backs local development and tests.
//
// Paid tiers are always derived from the captured amount through the plan
// catalog. A plan name supplied by a client is never trusted:
//
//	co, err := gw.VerifyCheckoutSession(ctx, sessionID)
//	switch {
//	case errors.Is(err, billing.ErrPaymentNotCompleted):
//		// still unpaid
//	case errors.Is(err, billing.ErrUnknownPriceAmount):
//		// amount matches no tier
//	}
//
// Adapters never swallow provider errors. Failures are wrapped with
// ErrProvider, ErrNotFound or ErrForbidden for classification with errors.Is.
package billing
