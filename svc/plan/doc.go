// Package plan holds the tier catalog: prices, provider price ids and daily
// API quotas for Free, Basic and Pro.
//
// Purchases are always mapped to a tier by the amount actually paid
// (Catalog.ByAmount), never by a plan name sent from the browser.
package plan
