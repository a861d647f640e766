// Package mongo connects to MongoDB, used as a self-hosted identity metadata
// store when no hosted identity provider is configured.
package mongo
