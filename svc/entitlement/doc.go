// Package entitlement keeps a user's plan, billing subscription and API
// credentials in agreement.
//
// The billing provider is authoritative for paid access. Identity metadata
// records the plan and the bound billing customer; the credential store
// holds one key per user and tier. No write spans those systems atomically,
// so every flow is a sequence of idempotent steps that converges when
// repeated:
//
//   - SelectPlan provisions Free directly and sends paid tiers to a hosted
//     checkout.
//   - VerifyPayment confirms a checkout by its charged amount and provisions
//     the tier, retrying local steps before reporting ErrSetupIncomplete.
//   - FetchSubscription and CancelSubscription resolve the customer through
//     the single binding.Strategy used everywhere.
//   - ReconcileUser and ReconcileAll implement the downgrade contract and
//     are also driven by billing webhooks through HandleEvent.
//   - DeleteAccount removes credentials before the identity record.
//
// Errors map onto a small taxonomy exposed through KindOf; multi-step
// failures carry a *StepError naming the failed step.
package entitlement
