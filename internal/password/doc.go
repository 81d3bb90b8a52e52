// Package password hashes and verifies the fake storefront's user passwords
// with Argon2id, encoded as PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # What this package must NOT do
//
//   - Store passwords. Callers keep the hashes.
//   - Log plaintext passwords.
package password
