// Package handshake implements the ephemeral OAuth handshake store: opaque
// state tokens that authorize exactly one callback redemption within a short
// TTL, and credential tokens that reference stored credential bundles.
//
// All entries live in a single flat JSON file so sessions survive process
// restarts. Writes go through a temp file and rename, so a crash mid-write
// never corrupts the cache.
package handshake
