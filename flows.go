package accountflow

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Flows is the engine driving both account workflows. Instances are built
// through [Builder.Build] and safe for concurrent use; each flow handle
// serializes its own session.
type Flows struct {
	config   Config
	identity IdentityClient
	clock    Clock
	audit    *auditDispatcher
	metrics  *Metrics

	mu   sync.Mutex
	live map[Kind]*flowSession
}

// Close flushes and stops the audit dispatcher.
func (f *Flows) Close() {
	if f == nil {
		return
	}
	if f.audit != nil {
		f.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// back-pressure.
func (f *Flows) AuditDropped() uint64 {
	if f == nil || f.audit == nil {
		return 0
	}
	return f.audit.Dropped()
}

// MetricsSnapshot returns a copy of all flow counters.
func (f *Flows) MetricsSnapshot() MetricsSnapshot {
	if f == nil || f.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return f.metrics.Snapshot()
}

func (f *Flows) metricInc(id MetricID) {
	if f == nil || f.metrics == nil {
		return
	}
	f.metrics.Inc(id)
}

// StartRegistration opens a registration flow, discarding any live
// registration session.
func (f *Flows) StartRegistration(ctx context.Context) *RegistrationFlow {
	s := f.startSession(ctx, KindRegistration, StageCollectUsername)
	return &RegistrationFlow{flows: f, s: s}
}

// StartRecovery opens a password recovery flow, discarding any live
// recovery session.
func (f *Flows) StartRecovery(ctx context.Context) *RecoveryFlow {
	s := f.startSession(ctx, KindRecovery, StageRequestEmail)
	return &RecoveryFlow{flows: f, s: s}
}

func (f *Flows) startSession(ctx context.Context, kind Kind, stage Stage) *flowSession {
	s := newFlowSession(kind, stage, f.clock)

	f.mu.Lock()
	prev := f.live[kind]
	f.live[kind] = s
	f.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.superseded = true
		prev.reset()
		prev.stage = StageNone
		prev.mu.Unlock()
		f.metricInc(MetricFlowCancelled)
		f.emitAudit(ctx, auditEventFlowSuperseded, prev, true, nil, nil)
	}

	f.metricInc(MetricFlowStarted)
	f.emitAudit(ctx, auditEventFlowStarted, s, true, nil, nil)
	return s
}

// finishSession drops s from the live table if it is still the live session
// of its kind.
func (f *Flows) finishSession(s *flowSession) {
	f.mu.Lock()
	if f.live[s.kind] == s {
		delete(f.live, s.kind)
	}
	f.mu.Unlock()
}

// cancelSession discards s. Local only: no abort call reaches the server,
// so provisional accounts and unconsumed codes are left behind until
// server-side TTLs clean them up.
func (f *Flows) cancelSession(ctx context.Context, s *flowSession) {
	s.mu.Lock()
	already := s.superseded || s.stage == StageNone || s.stage == StageComplete
	if !already {
		s.reset()
		s.stage = StageNone
	}
	s.mu.Unlock()

	if already {
		return
	}
	f.finishSession(s)
	f.metricInc(MetricFlowCancelled)
	f.emitAudit(ctx, auditEventFlowCancelled, s, true, nil, nil)
}

func (f *Flows) emitAudit(
	ctx context.Context,
	eventType string,
	s *flowSession,
	success bool,
	cause error,
	metadata func() map[string]string,
) {
	if f == nil || f.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Success:   success,
		IP:        clientIPFromContext(ctx),
	}
	if s != nil {
		event.FlowID = s.id
		event.Kind = s.kind.String()
		event.Stage = s.stage.String()
		event.Email = s.subjectEmail
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	f.audit.Emit(ctx, event)
}

// requireStage must be called with s.mu held.
func requireStage(s *flowSession, want Stage) error {
	if s.superseded {
		return ErrFlowSuperseded
	}
	if s.stage != want {
		return ErrStageMismatch
	}
	return nil
}

// heldTokenExpired pre-checks a JWT-shaped held token for expiry so a
// doomed finalize call is never issued. Opaque tokens pass through; their
// expiry is the server's call.
func heldTokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
