// Package billing mounts the HTTP surface of keytier: plan selection,
// checkout and payment verification, subscription management, API key
// management, account deletion, billing webhooks and the key-gated usage
// endpoint.
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(billing.Options{
//	    Entitlements: svc,
//	    Credentials:  creds,
//	    Gateway:      gw,
//	    Auth:         jwtSvc,
//	    Limiter:      limiter,
//	    Catalog:      catalog,
//	}))
//
// Every /api endpoint requires an identity provider session token whose
// subject is the user id. Errors are rendered as
// {"error":{"code":"...","message":"..."}}; a wrong method on a known path
// answers 405 with an Allow header.
package billing
