package accountflow

import "context"

// Kind identifies which workflow a session belongs to.
type Kind uint8

const (
	// KindRegistration is the account sign-up workflow.
	KindRegistration Kind = iota + 1
	// KindRecovery is the password reset workflow.
	KindRecovery
)

func (k Kind) String() string {
	switch k {
	case KindRegistration:
		return "registration"
	case KindRecovery:
		return "recovery"
	default:
		return "unknown"
	}
}

// Stage is the current position of a session inside its state machine.
type Stage uint8

const (
	// StageNone is the zero value; no flow is active.
	StageNone Stage = iota

	// StageCollectUsername collects and availability-checks a username.
	StageCollectUsername
	// StageCollectEmail collects the email and provisions the account.
	// Submitting this stage is the irreversible step: a persisted account
	// exists server-side before the user has chosen a real password.
	StageCollectEmail
	// StageAwaitCode waits for the emailed one-time code.
	StageAwaitCode
	// StageCollectFullName collects an optional display name.
	StageCollectFullName
	// StageSetPassword collects the real password and finalizes the account.
	StageSetPassword

	// StageRequestEmail collects the email a recovery operates on.
	StageRequestEmail
	// StageVerifyOwnership demands the current password before anything
	// about matching accounts is disclosed.
	StageVerifyOwnership
	// StageSelectAccount lets the user pick between several accounts whose
	// password matched.
	StageSelectAccount
	// StageSendAndVerifyCode requests a one-time code on entry and waits
	// for it to be entered.
	StageSendAndVerifyCode
	// StageSetNewPassword collects the replacement password.
	StageSetNewPassword

	// StageComplete marks a successfully finished flow.
	StageComplete
	// StageFailed marks a flow terminated by a fatal error; the session
	// cannot advance and the user must take an alternate path.
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageCollectUsername:
		return "collect_username"
	case StageCollectEmail:
		return "collect_email"
	case StageAwaitCode:
		return "await_code"
	case StageCollectFullName:
		return "collect_full_name"
	case StageSetPassword:
		return "set_password"
	case StageRequestEmail:
		return "request_email"
	case StageVerifyOwnership:
		return "verify_ownership"
	case StageSelectAccount:
		return "select_account"
	case StageSendAndVerifyCode:
		return "send_and_verify_code"
	case StageSetNewPassword:
		return "set_new_password"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AccountSummary is the minimal account view returned by the recovery
// request when one or more accounts share an email.
type AccountSummary struct {
	ID       string
	Username string
	Email    string
}

// User is the account snapshot the Identity Store returns on confirmation
// and finalization.
type User struct {
	ID          string
	Username    string
	Email       string
	FullName    string
	Provisional bool
}

// PendingProfile holds fields collected locally that are not yet persisted
// server-side with real values.
type PendingProfile struct {
	Username    string
	FullName    string
	Provisional bool
}

// CodePurpose tags a one-time code request with the workflow it serves.
// Codes are bound to (email, purpose) server-side and never cross flows.
type CodePurpose string

const (
	// PurposeRegistration marks codes confirming a new account's email.
	PurposeRegistration CodePurpose = "registration"
	// PurposeRecovery marks codes authorizing a password reset.
	PurposeRecovery CodePurpose = "recovery"
)

// CreateResult is returned by the provisional account creation endpoint.
// Token is only usable after code confirmation per the server contract, so
// the flow does not store it as the held token.
type CreateResult struct {
	NeedsCodeConfirmation bool
	Email                 string
	Token                 string
	User                  User
}

// ConfirmResult is returned when a registration code is accepted. Token is
// the held token authorizing exactly one finalize call.
type ConfirmResult struct {
	Token string
	User  User
}

// FinalizeResult is returned by the finalize and reset endpoints. Token is
// a fresh session credential when the store issues one; empty means the
// user must sign in manually.
type FinalizeResult struct {
	Token string
	User  User
}

// Completion is the terminal result of a finished flow.
type Completion struct {
	User User
	// Token is a session credential for immediate login, or empty when the
	// Identity Store did not return one and manual sign-in is required.
	Token string
}

// SignedIn reports whether the completion carries a usable session token.
func (c Completion) SignedIn() bool {
	return c.Token != ""
}

// IdentityClient is the consumed contract of the Identity Store. The flow
// engine is the only caller; implementations must map their transport and
// storage failures onto the package's sentinel errors.
//
// Implementations: identity.Client (HTTP) and devstore.Store (in-process).
type IdentityClient interface {
	// CheckUsername reports whether username is available. Read-only.
	CheckUsername(ctx context.Context, username string) (bool, error)

	// CreateProvisionalAccount creates a persisted account with a
	// placeholder password and triggers a one-time code email. Irreversible.
	CreateProvisionalAccount(ctx context.Context, username, email, placeholder string) (CreateResult, error)

	// ConfirmRegistrationCode validates a single-use registration code and
	// returns the held token plus an account snapshot.
	ConfirmRegistrationCode(ctx context.Context, email, code string) (ConfirmResult, error)

	// ResendCode re-issues the one-time code for (email, purpose).
	// Rate-limited server-side independently of the client cooldown.
	ResendCode(ctx context.Context, email string, purpose CodePurpose) error

	// RequestRecovery returns the accounts associated with email: zero, one
	// or many.
	RequestRecovery(ctx context.Context, email string) ([]AccountSummary, error)

	// AuthenticateAccount checks password against one specific account.
	// Used by ownership verification before any account data is disclosed.
	AuthenticateAccount(ctx context.Context, accountID, password string) (bool, error)

	// RequestRecoveryCode requests a one-time code bound to
	// (email, accountID) for a password reset.
	RequestRecoveryCode(ctx context.Context, email, accountID string) error

	// VerifyRecoveryCode checks a recovery code without consuming it or
	// mutating the password.
	VerifyRecoveryCode(ctx context.Context, email, accountID, code string) error

	// FinalizeRegistration sets the real password and full name. Authorized
	// by the held token; the token is spent by this call.
	FinalizeRegistration(ctx context.Context, heldToken, password, fullName string) (FinalizeResult, error)

	// ResetPassword consumes the recovery code and replaces the password.
	ResetPassword(ctx context.Context, email, accountID, code, newPassword string) (FinalizeResult, error)
}
