package accountflow

import "errors"

var (
	// ErrUsernameInvalid reports a username that fails local length or
	// charset checks. Resolved client-side; no network call is made.
	ErrUsernameInvalid = errors.New("username invalid")
	// ErrEmailInvalid reports an email that fails local structural checks.
	ErrEmailInvalid = errors.New("email invalid")
	// ErrCodeFormat reports a one-time code that is not the expected number
	// of digits. Resolved client-side; the code is never sent.
	ErrCodeFormat = errors.New("verification code format invalid")
	// ErrPasswordPolicy reports a password below the minimum length.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordMismatch reports a password/confirmation pair that differ.
	ErrPasswordMismatch = errors.New("password confirmation mismatch")
	// ErrFullNameTooLong reports a full name above the maximum length.
	ErrFullNameTooLong = errors.New("full name too long")
	// ErrConfirmationRequired reports a destructive submission attempted
	// without the explicit user acknowledgement the stage demands.
	ErrConfirmationRequired = errors.New("explicit confirmation required")

	// ErrUsernameTaken reports an unavailable username at the availability
	// check. The flow stays in the username stage.
	ErrUsernameTaken = errors.New("username taken")
	// ErrAccountExists reports a username/email collision at account
	// creation. The registration flow routes back to the username stage
	// rather than leaving a half-provisioned state silently.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidCredentials reports a failed ownership check. The message is
	// deliberately generic: it never distinguishes an unknown email from a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCodeInvalid reports a rejected one-time code. The flow stays in the
	// code stage and the entered code is preserved for retry within TTL.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeExpired reports a one-time code past its TTL, including the
	// race where the code expires between verify and the final reset call.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeAttempts reports a one-time code invalidated after too many
	// wrong submissions.
	ErrCodeAttempts = errors.New("verification code attempts exceeded")

	// ErrIdentityUnavailable reports a timeout or transport failure talking
	// to the Identity Store. The stage is unchanged and retry is allowed.
	ErrIdentityUnavailable = errors.New("identity store unavailable")
	// ErrRateLimited reports a server-side throttle on a code request.
	ErrRateLimited = errors.New("rate limited")

	// ErrHeldTokenMissing reports a finalize attempt with no held token. The
	// flow cannot resume: a real account with an unknown placeholder
	// password already exists, so the user is directed to sign in instead.
	ErrHeldTokenMissing = errors.New("held token missing")
	// ErrHeldTokenExpired reports a held token already past its expiry
	// before the finalize call was attempted.
	ErrHeldTokenExpired = errors.New("held token expired")

	// ErrStageMismatch reports an operation invoked in a stage that does not
	// accept it, including re-submission of an already completed step.
	ErrStageMismatch = errors.New("operation not valid in current stage")
	// ErrFlowSuperseded reports an operation on a session that was discarded
	// by starting a newer flow of the same kind.
	ErrFlowSuperseded = errors.New("flow superseded")
	// ErrFlowsNotReady reports a Flows value used before Build wired its
	// dependencies.
	ErrFlowsNotReady = errors.New("flows not initialized")
	// ErrAccountUnknown reports a selected account id that is not among the
	// matched candidates.
	ErrAccountUnknown = errors.New("account not among candidates")
)

// ErrorCategory groups public sentinel errors by how the UI should react.
type ErrorCategory uint8

const (
	// CategoryUnknown is returned for errors outside the flow taxonomy.
	CategoryUnknown ErrorCategory = iota
	// CategoryValidation blocks the transition locally; no server contact.
	CategoryValidation
	// CategoryConflict routes the flow back to the offending earlier stage.
	CategoryConflict
	// CategoryAuth keeps the current stage with an inline message; the
	// user's input is preserved for retry.
	CategoryAuth
	// CategoryTransient keeps the current stage; the action may be retried.
	CategoryTransient
	// CategoryFatal terminates the flow; the user must take an alternate
	// path such as signing in.
	CategoryFatal
)

// Category classifies err into the flow error taxonomy.
func Category(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrUsernameInvalid),
		errors.Is(err, ErrEmailInvalid),
		errors.Is(err, ErrCodeFormat),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordMismatch),
		errors.Is(err, ErrFullNameTooLong),
		errors.Is(err, ErrConfirmationRequired):
		return CategoryValidation
	case errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrAccountExists):
		return CategoryConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrCodeAttempts):
		return CategoryAuth
	case errors.Is(err, ErrIdentityUnavailable),
		errors.Is(err, ErrRateLimited):
		return CategoryTransient
	case errors.Is(err, ErrHeldTokenMissing),
		errors.Is(err, ErrHeldTokenExpired):
		return CategoryFatal
	default:
		return CategoryUnknown
	}
}
