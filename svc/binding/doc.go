// Package binding resolves the billing customer that owns a user's
// subscriptions.
//
// Historically three strategies coexisted: treating the bearer token as the
// customer id, looking the customer up by user id, and searching customers
// tagged with the user id. Only the last one is implemented. It is versioned
// and injected as a Strategy so that get-subscription, cancel-subscription and
// reconciliation all agree on ownership.
package binding
