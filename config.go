package accountflow

import (
	"errors"
	"time"
)

// Config defines the tunable policy of the flow engine. Instances are
// configured before Build and treated as immutable afterwards.
type Config struct {
	Registration RegistrationConfig
	Recovery     RecoveryConfig
	Code         CodeConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig bounds the inputs of the sign-up flow.
type RegistrationConfig struct {
	UsernameMinLen int
	UsernameMaxLen int
	PasswordMinLen int
	FullNameMaxLen int
}

/*
====================================
RECOVERY CONFIG
====================================
*/

// RecoveryConfig bounds the inputs of the password reset flow.
type RecoveryConfig struct {
	PasswordMinLen int
	// RequireAcknowledgement demands an explicit yes/no confirmation before
	// the final password reset submission.
	RequireAcknowledgement bool
}

/*
====================================
CODE CONFIG
====================================
*/

// CodeConfig describes the one-time codes the Identity Store issues and the
// client-side resend gate around them.
type CodeConfig struct {
	Digits         int
	ResendCooldown time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking flow operations when the
	// buffer is saturated.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults: 3–50 character usernames,
// 6+ character passwords, 100 character full names, 6-digit codes, and a
// 60 second resend cooldown.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Registration: RegistrationConfig{
			UsernameMinLen: 3,
			UsernameMaxLen: 50,
			PasswordMinLen: 6,
			FullNameMaxLen: 100,
		},
		Recovery: RecoveryConfig{
			PasswordMinLen:         6,
			RequireAcknowledgement: true,
		},
		Code: CodeConfig{
			Digits:         6,
			ResendCooldown: 60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the state machines cannot honor.
func (c Config) Validate() error {
	if c.Registration.UsernameMinLen < 1 {
		return errors.New("Registration.UsernameMinLen must be at least 1")
	}
	if c.Registration.UsernameMaxLen < c.Registration.UsernameMinLen {
		return errors.New("Registration.UsernameMaxLen below UsernameMinLen")
	}
	if c.Registration.PasswordMinLen < 1 {
		return errors.New("Registration.PasswordMinLen must be at least 1")
	}
	if c.Registration.FullNameMaxLen < 1 {
		return errors.New("Registration.FullNameMaxLen must be at least 1")
	}
	if c.Recovery.PasswordMinLen < 1 {
		return errors.New("Recovery.PasswordMinLen must be at least 1")
	}
	if c.Code.Digits < 4 || c.Code.Digits > 10 {
		return errors.New("Code.Digits must be between 4 and 10")
	}
	if c.Code.ResendCooldown <= 0 {
		return errors.New("Code.ResendCooldown must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("Audit.BufferSize must be at least 1 when enabled")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a deep copy.
	return cfg
}
