// Package redis connects keytier to Redis, which backs the API rate limiter
// and the plan-selection guard when several replicas run side by side.
package redis
