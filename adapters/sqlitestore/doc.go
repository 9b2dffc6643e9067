// Package sqlitestore implements the engine's UserProvider and the anomaly
// detection store on SQLite with embedded goose migrations. Intended for
// single-node deployments, development, and tests; multi-node deployments
// should use pgxstore.
package sqlitestore
