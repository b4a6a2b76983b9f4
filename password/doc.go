// Package password hashes and verifies user credentials with argon2id,
// encoding hashes in the PHC string format so parameters can be upgraded
// over time without invalidating stored hashes.
package password
