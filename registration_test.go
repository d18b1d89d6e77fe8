package accountflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startRegistration(t *testing.T, identity IdentityClient, clock Clock) (*Flows, *RegistrationFlow) {
	t.Helper()
	flows := newTestFlows(t, identity, clock)
	return flows, flows.StartRegistration(context.Background())
}

func advanceToAwaitCode(t *testing.T, flow *RegistrationFlow) {
	t.Helper()
	ctx := context.Background()
	if err := flow.SubmitUsername(ctx, "newuser"); err != nil {
		t.Fatalf("SubmitUsername error: %v", err)
	}
	if err := flow.SubmitEmail(ctx, "newuser@example.com"); err != nil {
		t.Fatalf("SubmitEmail error: %v", err)
	}
}

func TestRegistrationHappyPath(t *testing.T) {
	identity := newFakeIdentity()
	identity.finalizeFn = func(_ context.Context, heldToken, password, fullName string) (FinalizeResult, error) {
		if heldToken != "held-token" {
			t.Errorf("finalize called with token %q", heldToken)
		}
		if fullName != "Ada Lovelace" {
			t.Errorf("finalize called with full name %q", fullName)
		}
		return FinalizeResult{
			Token: "session-token",
			User:  User{ID: "acc-1", Username: "newuser", Email: "newuser@example.com", FullName: fullName},
		}, nil
	}

	flows, flow := startRegistration(t, identity, newFakeClock())
	ctx := context.Background()

	if got := flow.Stage(); got != StageCollectUsername {
		t.Fatalf("expected collect_username, got %v", got)
	}
	advanceToAwaitCode(t, flow)

	if got := flow.Stage(); got != StageAwaitCode {
		t.Fatalf("expected await_code, got %v", got)
	}
	if got := flow.Session().ResendRemaining; got != 60*time.Second {
		t.Fatalf("expected 60s resend cooldown armed, got %v", got)
	}

	handled, err := flow.ConfirmCode(ctx, "123456")
	if err != nil || !handled {
		t.Fatalf("ConfirmCode = (%v, %v)", handled, err)
	}
	if got := flow.Stage(); got != StageCollectFullName {
		t.Fatalf("expected collect_full_name, got %v", got)
	}
	if !flow.Session().HasHeldToken {
		t.Fatal("expected held token present after confirmation")
	}

	if err := flow.SubmitFullName(ctx, "Ada Lovelace"); err != nil {
		t.Fatalf("SubmitFullName error: %v", err)
	}

	completion, err := flow.SubmitPassword(ctx, "hunter22", "hunter22")
	if err != nil {
		t.Fatalf("SubmitPassword error: %v", err)
	}
	if !completion.SignedIn() {
		t.Fatal("expected completion with session token")
	}
	if completion.User.ID != "acc-1" {
		t.Fatalf("unexpected completion user: %+v", completion.User)
	}
	if got := flow.Stage(); got != StageComplete {
		t.Fatalf("expected complete, got %v", got)
	}

	snap := flows.MetricsSnapshot()
	if got := snap.Counters[MetricFlowCompleted]; got != 1 {
		t.Fatalf("expected 1 completed flow, got %d", got)
	}
}

func TestSubmitUsernameValidatesBeforeNetwork(t *testing.T) {
	identity := newFakeIdentity()
	_, flow := startRegistration(t, identity, newFakeClock())
	ctx := context.Background()

	for _, username := range []string{"", "ab", "bad name", "bad@name"} {
		if err := flow.SubmitUsername(ctx, username); !errors.Is(err, ErrUsernameInvalid) {
			t.Fatalf("SubmitUsername(%q) = %v, want ErrUsernameInvalid", username, err)
		}
	}
	if identity.callCount("CheckUsername") != 0 {
		t.Fatal("expected no availability checks for invalid usernames")
	}
}

func TestSubmitUsernameTakenStaysPut(t *testing.T) {
	identity := newFakeIdentity()
	identity.checkUsernameFn = func(context.Context, string) (bool, error) {
		return false, nil
	}
	_, flow := startRegistration(t, identity, newFakeClock())
	ctx := context.Background()

	if err := flow.SubmitUsername(ctx, "takenuser"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if got := flow.Stage(); got != StageCollectUsername {
		t.Fatalf("expected to stay in collect_username, got %v", got)
	}
}

func TestSubmitEmailConflictRoutesBackToUsername(t *testing.T) {
	identity := newFakeIdentity()
	identity.createFn = func(context.Context, string, string, string) (CreateResult, error) {
		return CreateResult{}, ErrAccountExists
	}
	flows, flow := startRegistration(t, identity, newFakeClock())
	ctx := context.Background()

	if err := flow.SubmitUsername(ctx, "raceduser"); err != nil {
		t.Fatalf("SubmitUsername error: %v", err)
	}
	if err := flow.SubmitEmail(ctx, "raced@example.com"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	// The availability check raced another registration; the flow re-opens
	// the username stage rather than dead-ending.
	if got := flow.Stage(); got != StageCollectUsername {
		t.Fatalf("expected route back to collect_username, got %v", got)
	}
	if got := flows.MetricsSnapshot().Counters[MetricAccountConflict]; got != 1 {
		t.Fatalf("expected 1 account conflict, got %d", got)
	}

	// And the flow is still usable with a different name.
	identity.createFn = nil
	if err := flow.SubmitUsername(ctx, "freshuser"); err != nil {
		t.Fatalf("SubmitUsername retry error: %v", err)
	}
	if err := flow.SubmitEmail(ctx, "raced@example.com"); err != nil {
		t.Fatalf("SubmitEmail retry error: %v", err)
	}
}

func TestConfirmCodeRejectedStaysInStage(t *testing.T) {
	identity := newFakeIdentity()
	identity.confirmFn = func(context.Context, string, string) (ConfirmResult, error) {
		return ConfirmResult{}, ErrCodeInvalid
	}
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	handled, err := flow.ConfirmCode(ctx, "999999")
	if !handled || !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("ConfirmCode = (%v, %v), want (true, ErrCodeInvalid)", handled, err)
	}
	if got := flow.Stage(); got != StageAwaitCode {
		t.Fatalf("expected to stay in await_code, got %v", got)
	}

	// A corrected code still works within TTL.
	identity.confirmFn = nil
	handled, err = flow.ConfirmCode(ctx, "123456")
	if !handled || err != nil {
		t.Fatalf("ConfirmCode retry = (%v, %v)", handled, err)
	}
}

func TestConfirmCodeFormatCheckedLocally(t *testing.T) {
	identity := newFakeIdentity()
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	for _, code := range []string{"", "12345", "abcdef", "1234567"} {
		handled, err := flow.ConfirmCode(ctx, code)
		if !handled || !errors.Is(err, ErrCodeFormat) {
			t.Fatalf("ConfirmCode(%q) = (%v, %v), want (true, ErrCodeFormat)", code, handled, err)
		}
	}
	if identity.callCount("ConfirmRegistrationCode") != 0 {
		t.Fatal("expected malformed codes to never reach the wire")
	}
}

func TestConfirmCodeDuplicateTapIsNoOp(t *testing.T) {
	identity := newFakeIdentity()
	enteredConfirm := make(chan struct{})
	releaseConfirm := make(chan struct{})
	identity.confirmFn = func(context.Context, string, string) (ConfirmResult, error) {
		close(enteredConfirm)
		<-releaseConfirm
		return ConfirmResult{Token: "held-token"}, nil
	}

	flows, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := flow.ConfirmCode(ctx, "123456")
		firstDone <- err
	}()
	<-enteredConfirm

	// Second tap while the first is on the wire: handled=false, no error,
	// and exactly zero additional network calls.
	handled, err := flow.ConfirmCode(ctx, "123456")
	if handled || err != nil {
		t.Fatalf("duplicate ConfirmCode = (%v, %v), want (false, nil)", handled, err)
	}
	if got := identity.callCount("ConfirmRegistrationCode"); got != 1 {
		t.Fatalf("expected 1 confirm call on the wire, got %d", got)
	}
	if !flow.Session().InFlight {
		t.Fatal("expected session to report an in-flight submission")
	}

	close(releaseConfirm)
	if err := <-firstDone; err != nil {
		t.Fatalf("first ConfirmCode error: %v", err)
	}
	if got := flow.Stage(); got != StageCollectFullName {
		t.Fatalf("expected collect_full_name after confirm, got %v", got)
	}
	if got := flows.MetricsSnapshot().Counters[MetricDuplicateSubmission]; got != 1 {
		t.Fatalf("expected 1 duplicate submission recorded, got %d", got)
	}

	// After the in-flight call finished the stage moved on, so a late
	// re-submission is a stage error, not a silent re-send.
	handled, err = flow.ConfirmCode(ctx, "123456")
	if !handled || !errors.Is(err, ErrStageMismatch) {
		t.Fatalf("late ConfirmCode = (%v, %v), want (true, ErrStageMismatch)", handled, err)
	}
	if got := identity.callCount("ConfirmRegistrationCode"); got != 1 {
		t.Fatalf("expected still 1 confirm call, got %d", got)
	}
}

func TestResendCodeCooldown(t *testing.T) {
	identity := newFakeIdentity()
	clock := newFakeClock()
	flows, flow := startRegistration(t, identity, clock)
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	// Inside the window: client-side no-op, nothing on the wire.
	sent, err := flow.ResendCode(ctx)
	if sent || err != nil {
		t.Fatalf("ResendCode inside cooldown = (%v, %v), want (false, nil)", sent, err)
	}
	clock.Advance(59 * time.Second)
	sent, err = flow.ResendCode(ctx)
	if sent || err != nil {
		t.Fatalf("ResendCode at 59s = (%v, %v), want (false, nil)", sent, err)
	}
	if identity.callCount("ResendCode") != 0 {
		t.Fatal("expected no resend calls inside the cooldown window")
	}

	// At exactly the deadline the resend goes through and re-arms.
	clock.Advance(time.Second)
	sent, err = flow.ResendCode(ctx)
	if !sent || err != nil {
		t.Fatalf("ResendCode at deadline = (%v, %v), want (true, nil)", sent, err)
	}
	if got := identity.callCount("ResendCode"); got != 1 {
		t.Fatalf("expected 1 resend call, got %d", got)
	}
	if got := flow.Session().ResendRemaining; got != 60*time.Second {
		t.Fatalf("expected cooldown re-armed to 60s, got %v", got)
	}

	snap := flows.MetricsSnapshot()
	if got := snap.Counters[MetricResendSuppressed]; got != 2 {
		t.Fatalf("expected 2 suppressed resends, got %d", got)
	}
	if got := snap.Counters[MetricCodeResent]; got != 1 {
		t.Fatalf("expected 1 resend, got %d", got)
	}
}

func TestSubmitPasswordValidatesBeforeNetwork(t *testing.T) {
	identity := newFakeIdentity()
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	if _, err := flow.ConfirmCode(ctx, "123456"); err != nil {
		t.Fatalf("ConfirmCode error: %v", err)
	}
	if err := flow.SkipFullName(ctx); err != nil {
		t.Fatalf("SkipFullName error: %v", err)
	}

	if _, err := flow.SubmitPassword(ctx, "short", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := flow.SubmitPassword(ctx, "longenough", "different"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if identity.callCount("FinalizeRegistration") != 0 {
		t.Fatal("expected no finalize calls for locally rejected passwords")
	}
	if got := flow.Stage(); got != StageSetPassword {
		t.Fatalf("expected to stay in set_password, got %v", got)
	}
}

func TestSubmitPasswordWithoutHeldTokenIsFatal(t *testing.T) {
	identity := newFakeIdentity()
	identity.confirmFn = func(context.Context, string, string) (ConfirmResult, error) {
		// Store accepted the code but returned no token.
		return ConfirmResult{}, nil
	}
	flows, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	if _, err := flow.ConfirmCode(ctx, "123456"); err != nil {
		t.Fatalf("ConfirmCode error: %v", err)
	}
	if err := flow.SkipFullName(ctx); err != nil {
		t.Fatalf("SkipFullName error: %v", err)
	}

	_, err := flow.SubmitPassword(ctx, "hunter22", "hunter22")
	if !errors.Is(err, ErrHeldTokenMissing) {
		t.Fatalf("expected ErrHeldTokenMissing, got %v", err)
	}
	if identity.callCount("FinalizeRegistration") != 0 {
		t.Fatal("expected no finalize call without a held token")
	}

	// Fatal: the flow is dead, the user signs in through the alternate path.
	if got := flow.Stage(); got != StageFailed {
		t.Fatalf("expected failed, got %v", got)
	}
	if _, err := flow.SubmitPassword(ctx, "hunter22", "hunter22"); !errors.Is(err, ErrStageMismatch) {
		t.Fatalf("expected ErrStageMismatch after fatal, got %v", err)
	}
	if got := flows.MetricsSnapshot().Counters[MetricFlowFatal]; got != 1 {
		t.Fatalf("expected 1 fatal flow, got %d", got)
	}
}

func TestSubmitPasswordExpiredHeldTokenIsFatal(t *testing.T) {
	identity := newFakeIdentity()
	identity.finalizeFn = func(context.Context, string, string, string) (FinalizeResult, error) {
		return FinalizeResult{}, ErrHeldTokenExpired
	}
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	if _, err := flow.ConfirmCode(ctx, "123456"); err != nil {
		t.Fatalf("ConfirmCode error: %v", err)
	}
	if err := flow.SkipFullName(ctx); err != nil {
		t.Fatalf("SkipFullName error: %v", err)
	}

	if _, err := flow.SubmitPassword(ctx, "hunter22", "hunter22"); !errors.Is(err, ErrHeldTokenExpired) {
		t.Fatalf("expected ErrHeldTokenExpired, got %v", err)
	}
	if got := flow.Stage(); got != StageFailed {
		t.Fatalf("expected failed, got %v", got)
	}
}

func TestFullNameTooLongRejected(t *testing.T) {
	identity := newFakeIdentity()
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	if _, err := flow.ConfirmCode(ctx, "123456"); err != nil {
		t.Fatalf("ConfirmCode error: %v", err)
	}

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	if err := flow.SubmitFullName(ctx, string(long)); !errors.Is(err, ErrFullNameTooLong) {
		t.Fatalf("expected ErrFullNameTooLong, got %v", err)
	}
	if got := flow.Stage(); got != StageCollectFullName {
		t.Fatalf("expected to stay in collect_full_name, got %v", got)
	}
}

func TestCompletionFallsBackToHeldToken(t *testing.T) {
	identity := newFakeIdentity()
	identity.finalizeFn = func(context.Context, string, string, string) (FinalizeResult, error) {
		// Store that does not mint fresh session tokens.
		return FinalizeResult{User: User{ID: "acc-9"}}, nil
	}
	_, flow := startRegistration(t, identity, newFakeClock())
	advanceToAwaitCode(t, flow)
	ctx := context.Background()

	if _, err := flow.ConfirmCode(ctx, "123456"); err != nil {
		t.Fatalf("ConfirmCode error: %v", err)
	}
	if err := flow.SkipFullName(ctx); err != nil {
		t.Fatalf("SkipFullName error: %v", err)
	}

	completion, err := flow.SubmitPassword(ctx, "hunter22", "hunter22")
	if err != nil {
		t.Fatalf("SubmitPassword error: %v", err)
	}
	if completion.Token != "held-token" {
		t.Fatalf("expected held token reused as login credential, got %q", completion.Token)
	}
}
