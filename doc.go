// Package accountflow drives the storefront's account verification and
// recovery workflows against an external Identity Store.
//
// The package owns the client side of two multi-stage, code-gated flows:
// registration (username → email → one-time code → optional full name →
// password) and password recovery (email → ownership check → optional
// account selection → one-time code → new password). All coordination state
// lives in an in-memory [Session]; nothing is persisted across a restart.
//
// # Architecture boundaries
//
// accountflow is the public surface. It exposes [Flows], [Builder],
// [Config], the [IdentityClient] contract, and value types (Session,
// AccountSummary, Completion). The Identity Store itself is never
// reimplemented here: the identity sub-package speaks its HTTP contract,
// and the devstore sub-package provides an in-process stand-in for
// development and tests.
//
// # What this package must NOT do
//
//   - Hold server-side session state or clean up server-side provisional
//     records; abandoning a flow discards local state only.
//   - Issue more than one network call per user-triggered action, or any
//     network call that client-side validation can preempt.
//   - Re-verify or replay a one-time code client-side; single use is the
//     server's contract.
package accountflow
