// Package identity wraps the identity provider's per-user metadata, where the
// active pricing plan and the bound billing customer are cached.
//
// The metadata blob is an external key/value capability behind MetadataStore.
// Three implementations exist: ClerkStore (Clerk public metadata), MongoStore
// (self-hosted) and MemoryStore (development and tests). Writes always merge,
// so keys owned by other systems survive.
//
//	ids := identity.NewAdapter(identity.NewClerkStore(identity.NewClerkClient(cfg)))
//	if err := ids.SetPlan(ctx, userID, plan.Basic, identity.Extra{CustomerID: "cus_123"}); err != nil {
//		return err
//	}
//
// Writes to identity metadata are not transactional with the credential
// store. Callers order them (metadata first) and rely on idempotent retries.
package identity
