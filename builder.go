package accountflow

import "errors"

// Builder assembles a [Flows] engine. Configure, then call Build once.
type Builder struct {
	config    Config
	identity  IdentityClient
	clock     Clock
	auditSink AuditSink

	built bool
}

// New returns a Builder primed with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentity sets the Identity Store client. Required.
func (b *Builder) WithIdentity(client IdentityClient) *Builder {
	b.identity = client
	return b
}

// WithClock injects the clock the resend cooldowns read. Defaults to the
// system clock; tests inject a fake to step time deterministically.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets the destination for flow audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Flows, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identity == nil {
		return nil, errors.New("identity client required")
	}

	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	f := &Flows{
		config:   cfg,
		identity: b.identity,
		clock:    clock,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		live:     make(map[Kind]*flowSession, 2),
	}

	b.built = true

	return f, nil
}
