// Package devstore is an in-process Identity Store for development and
// tests. Accounts live in memory; one-time codes and resend throttles live
// in Redis so their TTL and replay semantics match a production deployment.
//
// # Architecture boundaries
//
// devstore implements [accountflow.IdentityClient] and returns the flow
// package's sentinel errors. It never renders UI and never drives a flow
// itself.
//
// # What this package must NOT do
//
//   - Send real email. Codes go to the configured [Mailer].
//   - Persist accounts across restarts.
package devstore
