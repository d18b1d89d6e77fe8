package accountflow

import (
	"context"
	"errors"

	"github.com/MKNTW/accountflow/internal"
)

// RegistrationFlow drives one sign-up attempt:
//
//	CollectUsername → CollectEmail → AwaitCode → CollectFullName → SetPassword → Complete
//
// Methods must be called from the UI layer one user action at a time; the
// step guard turns a duplicate in-flight confirmation into a no-op.
type RegistrationFlow struct {
	flows *Flows
	s     *flowSession
}

// Session returns a point-in-time snapshot for rendering.
func (r *RegistrationFlow) Session() Session {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.snapshot()
}

// Stage returns the current stage.
func (r *RegistrationFlow) Stage() Stage {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.stage
}

// Cancel discards the flow locally. Any provisional account already created
// server-side is not cleaned up.
func (r *RegistrationFlow) Cancel(ctx context.Context) {
	r.flows.cancelSession(ctx, r.s)
}

// SubmitUsername validates the candidate username locally, then checks
// availability. Unavailable or invalid names keep the flow in the username
// stage with a field-level error.
func (r *RegistrationFlow) SubmitUsername(ctx context.Context, username string) error {
	f := r.flows
	if f == nil || f.identity == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageCollectUsername); err != nil {
		return err
	}

	cfg := f.config.Registration
	if !validUsername(username, cfg.UsernameMinLen, cfg.UsernameMaxLen) {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrUsernameInvalid, nil)
		return ErrUsernameInvalid
	}

	available, err := f.identity.CheckUsername(ctx, username)
	if err != nil {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return err
	}
	if !available {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrUsernameTaken, func() map[string]string {
			return map[string]string{
				"username": username,
			}
		})
		return ErrUsernameTaken
	}

	r.s.profile.Username = username
	r.s.stage = StageCollectEmail
	f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, nil)
	return nil
}

// SubmitEmail provisions the account and requests the confirmation code.
// This is the irreversible step: on success a persisted account exists with
// a random placeholder password before the user has chosen a real one. On a
// creation conflict (the availability check raced another registration) the
// flow routes back to the username stage instead of leaving the
// half-provisioned state silent.
func (r *RegistrationFlow) SubmitEmail(ctx context.Context, email string) error {
	f := r.flows
	if f == nil || f.identity == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageCollectEmail); err != nil {
		return err
	}

	if !validEmail(email) {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrEmailInvalid, nil)
		return ErrEmailInvalid
	}

	placeholder, err := internal.NewPlaceholderSecret()
	if err != nil {
		return ErrIdentityUnavailable
	}

	result, err := f.identity.CreateProvisionalAccount(ctx, r.s.profile.Username, email, placeholder)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			// Availability passed earlier but creation still collided.
			r.s.stage = StageCollectUsername
			f.metricInc(MetricAccountConflict)
			f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, func() map[string]string {
				return map[string]string{
					"routed_back": "collect_username",
				}
			})
			return err
		}
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return err
	}

	// The creation token is only usable after code confirmation per the
	// server contract; it is deliberately not stored as the held token.
	_ = result.Token

	r.s.subjectEmail = email
	r.s.profile.Provisional = true
	r.s.stage = StageAwaitCode
	r.s.cooldown.Arm(f.config.Code.ResendCooldown)

	f.metricInc(MetricAccountProvisioned)
	f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, func() map[string]string {
		return map[string]string{
			"needs_code_confirmation": boolString(result.NeedsCodeConfirmation),
		}
	})
	return nil
}

// ConfirmCode submits the emailed one-time code. A second call while one is
// in flight is a deliberate no-op returning false with zero network calls.
// On a rejected code the flow stays put and the entered code is preserved
// for retry within its TTL.
func (r *RegistrationFlow) ConfirmCode(ctx context.Context, code string) (bool, error) {
	f := r.flows
	if f == nil || f.identity == nil {
		return false, ErrFlowsNotReady
	}

	release, ok := r.s.guard.TryEnter()
	if !ok {
		f.metricInc(MetricDuplicateSubmission)
		f.emitAudit(ctx, auditEventDuplicateSubmission, r.s, false, nil, nil)
		return false, nil
	}
	defer release()

	r.s.mu.Lock()
	if err := requireStage(r.s, StageAwaitCode); err != nil {
		r.s.mu.Unlock()
		return true, err
	}
	if !validCode(code, f.config.Code.Digits) {
		r.s.mu.Unlock()
		f.emitAudit(ctx, auditEventCodeConfirm, r.s, false, ErrCodeFormat, nil)
		return true, ErrCodeFormat
	}
	email := r.s.subjectEmail
	r.s.mu.Unlock()

	// Network call outside the session lock so a duplicate tap hits the
	// guard instead of queueing behind the mutex.
	result, err := f.identity.ConfirmRegistrationCode(ctx, email, code)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.superseded {
		return true, ErrFlowSuperseded
	}
	if err != nil {
		f.metricInc(MetricCodeConfirmFailure)
		f.emitAudit(ctx, auditEventCodeConfirm, r.s, false, err, nil)
		return true, err
	}

	r.s.heldToken = result.Token
	if result.User.Username != "" {
		r.s.profile.Username = result.User.Username
	}
	r.s.profile.Provisional = result.User.Provisional
	r.s.stage = StageCollectFullName

	f.metricInc(MetricCodeConfirmSuccess)
	f.emitAudit(ctx, auditEventCodeConfirm, r.s, true, nil, nil)
	return true, nil
}

// ResendCode re-requests the confirmation code. Before the cooldown
// deadline it is a client-side no-op returning false and touching nothing
// on the wire; afterwards it re-arms the cooldown and leaves the stage
// unchanged.
func (r *RegistrationFlow) ResendCode(ctx context.Context) (bool, error) {
	f := r.flows
	if f == nil || f.identity == nil {
		return false, ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageAwaitCode); err != nil {
		return false, err
	}
	if !r.s.cooldown.Ready() {
		f.metricInc(MetricResendSuppressed)
		f.emitAudit(ctx, auditEventResendSuppressed, r.s, false, nil, nil)
		return false, nil
	}

	if err := f.identity.ResendCode(ctx, r.s.subjectEmail, PurposeRegistration); err != nil {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return false, err
	}

	r.s.cooldown.Arm(f.config.Code.ResendCooldown)
	f.metricInc(MetricCodeResent)
	f.emitAudit(ctx, auditEventCodeResent, r.s, true, nil, nil)
	return true, nil
}

// SubmitFullName stores the optional display name and always advances.
func (r *RegistrationFlow) SubmitFullName(ctx context.Context, fullName string) error {
	f := r.flows
	if f == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageCollectFullName); err != nil {
		return err
	}
	if len(fullName) > f.config.Registration.FullNameMaxLen {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrFullNameTooLong, nil)
		return ErrFullNameTooLong
	}

	r.s.profile.FullName = fullName
	r.s.stage = StageSetPassword
	f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, nil)
	return nil
}

// SkipFullName advances without collecting a display name.
func (r *RegistrationFlow) SkipFullName(ctx context.Context) error {
	return r.SubmitFullName(ctx, "")
}

// SubmitPassword sets the real password and completes the flow. Length and
// confirmation checks run before any network call. Without a held token the
// flow cannot resume: a real account with an unknown placeholder password
// already exists server-side, so the terminal error directs the user to
// sign in through the alternate path.
func (r *RegistrationFlow) SubmitPassword(ctx context.Context, password, confirm string) (Completion, error) {
	f := r.flows
	if f == nil || f.identity == nil {
		return Completion{}, ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageSetPassword); err != nil {
		return Completion{}, err
	}
	if len(password) < f.config.Registration.PasswordMinLen {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrPasswordPolicy, nil)
		return Completion{}, ErrPasswordPolicy
	}
	if password != confirm {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrPasswordMismatch, nil)
		return Completion{}, ErrPasswordMismatch
	}

	if r.s.heldToken == "" {
		return Completion{}, r.failFlow(ctx, ErrHeldTokenMissing)
	}
	if heldTokenExpired(r.s.heldToken, f.clock.Now()) {
		return Completion{}, r.failFlow(ctx, ErrHeldTokenExpired)
	}

	result, err := f.identity.FinalizeRegistration(ctx, r.s.heldToken, password, r.s.profile.FullName)
	if err != nil {
		if errors.Is(err, ErrHeldTokenExpired) || errors.Is(err, ErrHeldTokenMissing) {
			return Completion{}, r.failFlow(ctx, err)
		}
		f.metricInc(MetricPasswordSetFailure)
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return Completion{}, err
	}

	completion := Completion{
		User:  result.User,
		Token: result.Token,
	}
	if completion.Token == "" {
		// Stores that do not mint a fresh session token let the confirmed
		// token double as the login credential.
		completion.Token = r.s.heldToken
	}

	r.s.reset()
	r.s.stage = StageComplete
	f.finishSession(r.s)

	f.metricInc(MetricPasswordSetSuccess)
	f.metricInc(MetricFlowCompleted)
	f.emitAudit(ctx, auditEventFlowCompleted, r.s, true, nil, nil)
	return completion, nil
}

// failFlow must be called with r.s.mu held.
func (r *RegistrationFlow) failFlow(ctx context.Context, cause error) error {
	r.s.reset()
	r.s.stage = StageFailed
	r.flows.finishSession(r.s)
	r.flows.metricInc(MetricFlowFatal)
	r.flows.emitAudit(ctx, auditEventFlowFatal, r.s, false, cause, func() map[string]string {
		return map[string]string{
			"redirect": "sign_in",
		}
	})
	return cause
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
