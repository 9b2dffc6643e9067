// Package password provides memory-hard credential hashing for the medauth
// engine. Hashes are argon2id over password || salt || pepper: the salt is a
// per-user random value stored on the credential record, the pepper a single
// process-wide secret that is never persisted, so a database dump alone is
// insufficient to mount an offline attack.
//
// Encoded hashes use the PHC string format and embed the work factors, so
// parameters can be raised later and detected with [Hasher.NeedsRehash].
package password
