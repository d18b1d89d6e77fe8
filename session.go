package accountflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a read-only snapshot of one in-progress flow, sampled by the
// UI layer for rendering. The held token and verified code are exposed as
// presence flags only; the raw values never leave the engine.
type Session struct {
	ID                string
	Kind              Kind
	Stage             Stage
	SubjectEmail      string
	Profile           PendingProfile
	HasHeldToken      bool
	CandidateAccounts []AccountSummary
	SelectedAccountID string
	CodeVerified      bool
	// ResendRemaining is the time left on the resend cooldown, zero when a
	// resend is allowed.
	ResendRemaining time.Duration
	// InFlight reports whether a guarded confirmation call is outstanding.
	InFlight bool
}

// flowSession is the mutable state behind a Session snapshot. One live
// instance per flow kind; starting a new flow of the same kind discards the
// previous one without merging.
type flowSession struct {
	id   string
	kind Kind

	mu           sync.Mutex
	stage        Stage
	subjectEmail string
	profile      PendingProfile
	heldToken    string
	// candidatesAll holds every account returned by the recovery request.
	// It is never disclosed; only the password-matched subset surfaces as
	// candidates.
	candidatesAll []AccountSummary
	candidates    []AccountSummary
	selectedID    string
	verifiedCode  string
	superseded    bool

	cooldown *Cooldown
	guard    StepGuard
}

func newFlowSession(kind Kind, stage Stage, clock Clock) *flowSession {
	return &flowSession{
		id:       uuid.NewString(),
		kind:     kind,
		stage:    stage,
		cooldown: NewCooldown(clock),
	}
}

// snapshot must be called with s.mu held.
func (s *flowSession) snapshot() Session {
	snap := Session{
		ID:                s.id,
		Kind:              s.kind,
		Stage:             s.stage,
		SubjectEmail:      s.subjectEmail,
		Profile:           s.profile,
		HasHeldToken:      s.heldToken != "",
		SelectedAccountID: s.selectedID,
		CodeVerified:      s.verifiedCode != "",
		ResendRemaining:   s.cooldown.Remaining(),
		InFlight:          s.guard.Held(),
	}
	if len(s.candidates) > 0 {
		snap.CandidateAccounts = make([]AccountSummary, len(s.candidates))
		copy(snap.CandidateAccounts, s.candidates)
	}
	return snap
}

// reset discards accumulated credentials and selections. Must be called
// with s.mu held.
func (s *flowSession) reset() {
	s.subjectEmail = ""
	s.profile = PendingProfile{}
	s.heldToken = ""
	s.candidatesAll = nil
	s.candidates = nil
	s.selectedID = ""
	s.verifiedCode = ""
}
