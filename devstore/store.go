package devstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MKNTW/accountflow"
	"github.com/MKNTW/accountflow/internal"
	"github.com/MKNTW/accountflow/password"
)

// Config tunes the development store.
type Config struct {
	// CodeDigits is the one-time code length. Must match the flow config.
	CodeDigits int
	// CodeTTL bounds how long an issued code stays valid.
	CodeTTL time.Duration
	// MaxCodeAttempts deletes a code after this many wrong guesses.
	MaxCodeAttempts int
	// HeldTokenTTL bounds the window between code confirmation and the
	// finalize call.
	HeldTokenTTL time.Duration
	// SessionTokenTTL is the lifetime of tokens minted on completion.
	SessionTokenTTL time.Duration
	// ResendLimit and ResendWindow configure the server-side issuance
	// throttle per (purpose, email).
	ResendLimit  int
	ResendWindow time.Duration
	// SigningKey signs held and session tokens. Required.
	SigningKey []byte
	// Password holds the argon2id cost parameters for stored hashes.
	Password password.Config
}

// DefaultConfig returns development-grade settings: short TTLs and argon2
// parameters cheap enough for tests.
func DefaultConfig() Config {
	return Config{
		CodeDigits:      6,
		CodeTTL:         10 * time.Minute,
		MaxCodeAttempts: 5,
		HeldTokenTTL:    15 * time.Minute,
		SessionTokenTTL: 24 * time.Hour,
		ResendLimit:     5,
		ResendWindow:    time.Hour,
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

type accountRecord struct {
	ID           string
	Username     string
	Email        string
	FullName     string
	PasswordHash string
	Provisional  bool
	CreatedAt    time.Time
}

// Store is an in-process Identity Store. Account state is guarded by a
// single mutex; codes and throttles live in Redis.
type Store struct {
	config   Config
	hasher   *password.Argon2
	codes    *codeStore
	throttle *resendThrottle
	mailer   Mailer
	now      func() time.Time

	mu         sync.Mutex
	accounts   map[string]*accountRecord
	byUsername map[string]string
	spentJTI   map[string]struct{}
}

// New builds a Store on the given Redis client. mailer may be nil, in which
// case codes are generated but silently discarded.
func New(cfg Config, redisClient *redis.Client, mailer Mailer) (*Store, error) {
	if redisClient == nil {
		return nil, errors.New("redis client required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("signing key required")
	}
	if cfg.CodeDigits <= 0 || cfg.CodeTTL <= 0 || cfg.MaxCodeAttempts <= 0 {
		return nil, errors.New("invalid code settings")
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	return &Store{
		config:     cfg,
		hasher:     hasher,
		codes:      newCodeStore(redisClient),
		throttle:   newResendThrottle(redisClient, cfg.ResendLimit, cfg.ResendWindow),
		mailer:     mailer,
		now:        time.Now,
		accounts:   make(map[string]*accountRecord),
		byUsername: make(map[string]string),
		spentJTI:   make(map[string]struct{}),
	}, nil
}

// SetNow overrides the store's clock. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// CheckUsername reports availability without reserving anything.
func (s *Store) CheckUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, taken := s.byUsername[strings.ToLower(username)]
	return !taken, nil
}

// CreateProvisionalAccount persists the account immediately with the
// placeholder credential and issues the registration code. The account
// exists from this point on even if the flow never completes.
func (s *Store) CreateProvisionalAccount(ctx context.Context, username, email, placeholder string) (accountflow.CreateResult, error) {
	normalizedEmail := strings.ToLower(email)
	usernameKey := strings.ToLower(username)

	hash, err := s.hasher.Hash(placeholder)
	if err != nil {
		return accountflow.CreateResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	s.mu.Lock()
	if _, taken := s.byUsername[usernameKey]; taken {
		s.mu.Unlock()
		return accountflow.CreateResult{}, accountflow.ErrAccountExists
	}
	record := &accountRecord{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        normalizedEmail,
		PasswordHash: hash,
		Provisional:  true,
		CreatedAt:    s.now(),
	}
	s.accounts[record.ID] = record
	s.byUsername[usernameKey] = record.ID
	s.mu.Unlock()

	if err := s.issueCode(ctx, accountflow.PurposeRegistration, normalizedEmail, ""); err != nil {
		return accountflow.CreateResult{}, err
	}

	return accountflow.CreateResult{
		NeedsCodeConfirmation: true,
		Email:                 normalizedEmail,
		User:                  snapshot(record),
	}, nil
}

// ConfirmRegistrationCode consumes the registration code and mints the held
// token authorizing exactly one finalize call.
func (s *Store) ConfirmRegistrationCode(ctx context.Context, email, code string) (accountflow.ConfirmResult, error) {
	normalizedEmail := strings.ToLower(email)

	key := codeKey(accountflow.PurposeRegistration, normalizedEmail, "")
	if err := s.codes.Check(ctx, key, sha256.Sum256([]byte(code)), s.config.MaxCodeAttempts, true, s.now()); err != nil {
		return accountflow.ConfirmResult{}, mapStoreErr(err)
	}

	record := s.findByEmail(normalizedEmail)
	if record == nil {
		return accountflow.ConfirmResult{}, accountflow.ErrIdentityUnavailable
	}

	token, err := s.mintToken(record.ID, "finalize_registration", s.config.HeldTokenTTL)
	if err != nil {
		return accountflow.ConfirmResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	return accountflow.ConfirmResult{
		Token: token,
		User:  snapshot(record),
	}, nil
}

// ResendCode re-issues a code for (email, purpose) behind the throttle.
func (s *Store) ResendCode(ctx context.Context, email string, purpose accountflow.CodePurpose) error {
	normalizedEmail := strings.ToLower(email)
	if err := s.throttle.Allow(ctx, throttleKey(purpose, normalizedEmail)); err != nil {
		return mapStoreErr(err)
	}
	return s.issueCode(ctx, purpose, normalizedEmail, "")
}

// RequestRecovery returns every account behind email, possibly none.
func (s *Store) RequestRecovery(_ context.Context, email string) ([]accountflow.AccountSummary, error) {
	normalizedEmail := strings.ToLower(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []accountflow.AccountSummary
	for _, record := range s.accounts {
		if record.Email == normalizedEmail && !record.Provisional {
			out = append(out, accountflow.AccountSummary{
				ID:       record.ID,
				Username: record.Username,
				Email:    record.Email,
			})
		}
	}
	return out, nil
}

// AuthenticateAccount verifies password against one account. Unknown
// accounts report a plain non-match.
func (s *Store) AuthenticateAccount(_ context.Context, accountID, pass string) (bool, error) {
	s.mu.Lock()
	record, ok := s.accounts[accountID]
	var hash string
	if ok {
		hash = record.PasswordHash
	}
	s.mu.Unlock()

	if !ok {
		return false, nil
	}

	match, err := s.hasher.Verify(pass, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}
	return match, nil
}

// RequestRecoveryCode issues a reset code bound to (email, accountID).
func (s *Store) RequestRecoveryCode(ctx context.Context, email, accountID string) error {
	normalizedEmail := strings.ToLower(email)

	s.mu.Lock()
	record, ok := s.accounts[accountID]
	valid := ok && record.Email == normalizedEmail
	s.mu.Unlock()
	if !valid {
		return accountflow.ErrAccountUnknown
	}

	if err := s.throttle.Allow(ctx, throttleKey(accountflow.PurposeRecovery, normalizedEmail)); err != nil {
		return mapStoreErr(err)
	}
	return s.issueCode(ctx, accountflow.PurposeRecovery, normalizedEmail, accountID)
}

// VerifyRecoveryCode checks the code without consuming it; wrong guesses
// still burn attempts.
func (s *Store) VerifyRecoveryCode(ctx context.Context, email, accountID, code string) error {
	key := codeKey(accountflow.PurposeRecovery, strings.ToLower(email), accountID)
	if err := s.codes.Check(ctx, key, sha256.Sum256([]byte(code)), s.config.MaxCodeAttempts, false, s.now()); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// FinalizeRegistration spends the held token and promotes the provisional
// account to a real one.
func (s *Store) FinalizeRegistration(_ context.Context, heldToken, pass, fullName string) (accountflow.FinalizeResult, error) {
	accountID, jti, err := s.verifyToken(heldToken, "finalize_registration")
	if err != nil {
		return accountflow.FinalizeResult{}, err
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return accountflow.FinalizeResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	s.mu.Lock()
	if _, spent := s.spentJTI[jti]; spent {
		s.mu.Unlock()
		return accountflow.FinalizeResult{}, accountflow.ErrHeldTokenMissing
	}
	record, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return accountflow.FinalizeResult{}, accountflow.ErrHeldTokenMissing
	}
	s.spentJTI[jti] = struct{}{}
	record.PasswordHash = hash
	record.FullName = fullName
	record.Provisional = false
	result := snapshot(record)
	s.mu.Unlock()

	session, err := s.mintToken(accountID, "session", s.config.SessionTokenTTL)
	if err != nil {
		return accountflow.FinalizeResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	return accountflow.FinalizeResult{Token: session, User: result}, nil
}

// ResetPassword consumes the recovery code and replaces the password.
func (s *Store) ResetPassword(ctx context.Context, email, accountID, code, newPassword string) (accountflow.FinalizeResult, error) {
	key := codeKey(accountflow.PurposeRecovery, strings.ToLower(email), accountID)
	if err := s.codes.Check(ctx, key, sha256.Sum256([]byte(code)), s.config.MaxCodeAttempts, true, s.now()); err != nil {
		return accountflow.FinalizeResult{}, mapStoreErr(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return accountflow.FinalizeResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	s.mu.Lock()
	record, ok := s.accounts[accountID]
	if !ok {
		s.mu.Unlock()
		return accountflow.FinalizeResult{}, accountflow.ErrAccountUnknown
	}
	record.PasswordHash = hash
	result := snapshot(record)
	s.mu.Unlock()

	session, err := s.mintToken(accountID, "session", s.config.SessionTokenTTL)
	if err != nil {
		return accountflow.FinalizeResult{}, fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	return accountflow.FinalizeResult{Token: session, User: result}, nil
}

func (s *Store) issueCode(ctx context.Context, purpose accountflow.CodePurpose, email, accountID string) error {
	code, err := internal.NewOTP(s.config.CodeDigits)
	if err != nil {
		return fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	key := codeKey(purpose, email, accountID)
	if err := s.codes.Save(ctx, key, sha256.Sum256([]byte(code)), s.config.CodeTTL, s.now()); err != nil {
		return mapStoreErr(err)
	}

	if s.mailer != nil {
		if err := s.mailer.DeliverCode(ctx, email, purpose, code); err != nil {
			return fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
		}
	}
	return nil
}

func (s *Store) findByEmail(email string) *accountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.accounts {
		if record.Email == email {
			return record
		}
	}
	return nil
}

func (s *Store) mintToken(accountID, purpose string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":     accountID,
		"purpose": purpose,
		"jti":     uuid.NewString(),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.config.SigningKey)
}

// verifyToken validates signature, purpose and expiry. Expiry maps to the
// dedicated sentinel so the flow can distinguish it from a forged or absent
// token.
func (s *Store) verifyToken(token, wantPurpose string) (accountID, jti string, err error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.config.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", accountflow.ErrHeldTokenExpired
		}
		return "", "", accountflow.ErrHeldTokenMissing
	}
	if !parsed.Valid {
		return "", "", accountflow.ErrHeldTokenMissing
	}
	if purpose, _ := claims["purpose"].(string); purpose != wantPurpose {
		return "", "", accountflow.ErrHeldTokenMissing
	}

	accountID, _ = claims["sub"].(string)
	jti, _ = claims["jti"].(string)
	if accountID == "" || jti == "" {
		return "", "", accountflow.ErrHeldTokenMissing
	}
	return accountID, jti, nil
}

func snapshot(record *accountRecord) accountflow.User {
	return accountflow.User{
		ID:          record.ID,
		Username:    record.Username,
		Email:       record.Email,
		FullName:    record.FullName,
		Provisional: record.Provisional,
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, errCodeRedisUnavailable) {
		return fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}
	return err
}
