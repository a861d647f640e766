// Package credential manages API keys: one row per (user, tier), rotated in
// place by an atomic upsert and switched off rather than deleted on
// downgrade.
//
// PostgresStore is the production Store (pgx + squirrel, schema in
// Migrations); MemoryStore backs development and tests. RequireAPIKey guards
// the public API and enforces the tier's daily quota.
package credential
