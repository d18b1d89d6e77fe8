// Package identity is the HTTP client for the Identity Store endpoints the
// flow engine consumes.
//
// # Error mapping
//
// The server's error envelope carries a machine-readable code; [Client]
// maps every code onto the accountflow sentinel errors so callers branch
// with errors.Is and never parse messages. Transport failures and 5xx
// responses map to [accountflow.ErrIdentityUnavailable].
//
// # What this package must NOT do
//
//   - Retry. The flows decide what is safe to repeat.
//   - Cache responses.
package identity
