// Package pgxstore implements the engine's UserProvider on PostgreSQL via
// pgx. Suited to multi-node deployments where SQLite's single-writer model
// does not hold.
package pgxstore
