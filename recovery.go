package accountflow

import (
	"context"
	"errors"
)

// RecoveryFlow drives one password reset attempt:
//
//	RequestEmail → VerifyOwnership → (SelectAccount) → SendAndVerifyCode → SetNewPassword → Complete
//
// The email step never branches on how many accounts matched; ownership
// must be proven with the current password before anything about matching
// accounts is disclosed.
type RecoveryFlow struct {
	flows *Flows
	s     *flowSession
}

// Session returns a point-in-time snapshot for rendering.
func (r *RecoveryFlow) Session() Session {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.snapshot()
}

// Stage returns the current stage.
func (r *RecoveryFlow) Stage() Stage {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.stage
}

// Cancel discards the flow locally; unconsumed server-side codes are left
// to expire on their own.
func (r *RecoveryFlow) Cancel(ctx context.Context) {
	r.flows.cancelSession(ctx, r.s)
}

// Candidates returns the accounts whose password matched during ownership
// verification. Populated only in the select-account stage.
func (r *RecoveryFlow) Candidates() []AccountSummary {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]AccountSummary, len(r.s.candidates))
	copy(out, r.s.candidates)
	return out
}

// SubmitEmail looks up the accounts behind email and always advances to
// ownership verification, whether zero, one or many matched. Branching here
// would leak account existence and count to an unauthenticated caller.
func (r *RecoveryFlow) SubmitEmail(ctx context.Context, email string) error {
	f := r.flows
	if f == nil || f.identity == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageRequestEmail); err != nil {
		return err
	}
	if !validEmail(email) {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrEmailInvalid, nil)
		return ErrEmailInvalid
	}

	accounts, err := f.identity.RequestRecovery(ctx, email)
	if err != nil {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return err
	}

	r.s.subjectEmail = email
	r.s.candidatesAll = accounts
	r.s.stage = StageVerifyOwnership
	f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, nil)
	return nil
}

// VerifyOwnership authenticates the supplied current password against every
// account sharing the email. Zero matches yields the generic
// invalid-credentials error, never "unknown email". One match selects the
// account and enters the code stage; several advance to account selection
// with the matched accounts only.
func (r *RecoveryFlow) VerifyOwnership(ctx context.Context, password string) error {
	f := r.flows
	if f == nil || f.identity == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageVerifyOwnership); err != nil {
		return err
	}
	if password == "" {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	var matched []AccountSummary
	for _, account := range r.s.candidatesAll {
		ok, err := f.identity.AuthenticateAccount(ctx, account.ID, password)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
			return err
		}
		if ok {
			matched = append(matched, account)
		}
	}

	switch len(matched) {
	case 0:
		f.metricInc(MetricOwnershipFailure)
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	case 1:
		r.s.selectedID = matched[0].ID
		return r.enterCodeStage(ctx)
	default:
		r.s.candidates = matched
		r.s.stage = StageSelectAccount
		f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, func() map[string]string {
			return map[string]string{
				"candidates": itoa(len(matched)),
			}
		})
		return nil
	}
}

// SelectAccount picks one of the matched candidates and enters the code
// stage.
func (r *RecoveryFlow) SelectAccount(ctx context.Context, accountID string) error {
	f := r.flows
	if f == nil || f.identity == nil {
		return ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageSelectAccount); err != nil {
		return err
	}

	found := false
	for _, account := range r.s.candidates {
		if account.ID == accountID {
			found = true
			break
		}
	}
	if !found {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrAccountUnknown, nil)
		return ErrAccountUnknown
	}

	r.s.selectedID = accountID
	return r.enterCodeStage(ctx)
}

// enterCodeStage requests a one-time code bound to (email, account) and
// arms the resend cooldown. Must be called with r.s.mu held. On failure the
// previous stage is kept so the triggering action can be retried.
func (r *RecoveryFlow) enterCodeStage(ctx context.Context) error {
	f := r.flows

	if err := f.identity.RequestRecoveryCode(ctx, r.s.subjectEmail, r.s.selectedID); err != nil {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return err
	}

	r.s.stage = StageSendAndVerifyCode
	r.s.cooldown.Arm(f.config.Code.ResendCooldown)
	f.emitAudit(ctx, auditEventStageAdvanced, r.s, true, nil, nil)
	return nil
}

// SubmitCode verifies the recovery code through the dedicated verify-only
// endpoint; the password is untouched and the code is not consumed.
// Duplicate in-flight submissions are a guard no-op returning false with
// zero network calls.
func (r *RecoveryFlow) SubmitCode(ctx context.Context, code string) (bool, error) {
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
	if err := requireStage(r.s, StageSendAndVerifyCode); err != nil {
		r.s.mu.Unlock()
		return true, err
	}
	if !validCode(code, f.config.Code.Digits) {
		r.s.mu.Unlock()
		f.emitAudit(ctx, auditEventCodeConfirm, r.s, false, ErrCodeFormat, nil)
		return true, ErrCodeFormat
	}
	email, accountID := r.s.subjectEmail, r.s.selectedID
	r.s.mu.Unlock()

	err := f.identity.VerifyRecoveryCode(ctx, email, accountID, code)

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

	// Retained only long enough to submit the final password change, so the
	// user is not re-prompted for the code at the last step.
	r.s.verifiedCode = code
	r.s.stage = StageSetNewPassword

	f.metricInc(MetricCodeConfirmSuccess)
	f.emitAudit(ctx, auditEventCodeConfirm, r.s, true, nil, nil)
	return true, nil
}

// ResendCode re-requests the recovery code. A client-side no-op before the
// cooldown deadline.
func (r *RecoveryFlow) ResendCode(ctx context.Context) (bool, error) {
	f := r.flows
	if f == nil || f.identity == nil {
		return false, ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageSendAndVerifyCode); err != nil {
		return false, err
	}
	if !r.s.cooldown.Ready() {
		f.metricInc(MetricResendSuppressed)
		f.emitAudit(ctx, auditEventResendSuppressed, r.s, false, nil, nil)
		return false, nil
	}

	if err := f.identity.RequestRecoveryCode(ctx, r.s.subjectEmail, r.s.selectedID); err != nil {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return false, err
	}

	r.s.cooldown.Arm(f.config.Code.ResendCooldown)
	f.metricInc(MetricCodeResent)
	f.emitAudit(ctx, auditEventCodeResent, r.s, true, nil, nil)
	return true, nil
}

// SubmitNewPassword consumes the verified code and replaces the password.
// The acknowledged flag must be set by an explicit yes/no prompt when the
// configuration demands it. If the code expired between verification and
// this call, the flow routes back to the code stage rather than discarding
// everything.
func (r *RecoveryFlow) SubmitNewPassword(ctx context.Context, password, confirm string, acknowledged bool) (Completion, error) {
	f := r.flows
	if f == nil || f.identity == nil {
		return Completion{}, ErrFlowsNotReady
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := requireStage(r.s, StageSetNewPassword); err != nil {
		return Completion{}, err
	}
	if f.config.Recovery.RequireAcknowledgement && !acknowledged {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrConfirmationRequired, nil)
		return Completion{}, ErrConfirmationRequired
	}
	if len(password) < f.config.Recovery.PasswordMinLen {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrPasswordPolicy, nil)
		return Completion{}, ErrPasswordPolicy
	}
	if password != confirm {
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, ErrPasswordMismatch, nil)
		return Completion{}, ErrPasswordMismatch
	}

	result, err := f.identity.ResetPassword(ctx, r.s.subjectEmail, r.s.selectedID, r.s.verifiedCode, password)
	if err != nil {
		if errors.Is(err, ErrCodeExpired) || errors.Is(err, ErrCodeInvalid) {
			// The code's TTL won the race against the user. Route back to
			// the code stage and issue a fresh code; if that request fails
			// too, the stage still allows an immediate manual resend.
			r.s.verifiedCode = ""
			r.s.stage = StageSendAndVerifyCode
			if reqErr := f.identity.RequestRecoveryCode(ctx, r.s.subjectEmail, r.s.selectedID); reqErr == nil {
				r.s.cooldown.Arm(f.config.Code.ResendCooldown)
			}
			f.metricInc(MetricPasswordSetFailure)
			f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, func() map[string]string {
				return map[string]string{
					"routed_back": "send_and_verify_code",
				}
			})
			return Completion{}, err
		}
		f.metricInc(MetricPasswordSetFailure)
		f.emitAudit(ctx, auditEventStageRejected, r.s, false, err, nil)
		return Completion{}, err
	}

	completion := Completion{
		User:  result.User,
		Token: result.Token,
	}

	r.s.reset()
	r.s.stage = StageComplete
	f.finishSession(r.s)

	f.metricInc(MetricPasswordSetSuccess)
	f.metricInc(MetricFlowCompleted)
	f.emitAudit(ctx, auditEventFlowCompleted, r.s, true, nil, func() map[string]string {
		return map[string]string{
			"signed_in": boolString(completion.SignedIn()),
		}
	})
	return completion, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 && i > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
