package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MKNTW/accountflow"
)

const defaultTimeout = 10 * time.Second

// Client talks to an Identity Store over HTTP/JSON. It implements
// [accountflow.IdentityClient].
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The caller owns the
// timeout; the default client uses a fixed 10s budget per call.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient validates baseURL and returns a ready client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("identity: invalid base url")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type userPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Provisional bool   `json:"provisional"`
}

func (p userPayload) toUser() accountflow.User {
	return accountflow.User{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		FullName:    p.FullName,
		Provisional: p.Provisional,
	}
}

// CheckUsername reports whether username is available.
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	var out struct {
		Available bool `json:"available"`
	}
	path := "/v1/usernames/" + url.PathEscape(username) + "/availability"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

// CreateProvisionalAccount creates the account and triggers the code email.
func (c *Client) CreateProvisionalAccount(ctx context.Context, username, email, placeholder string) (accountflow.CreateResult, error) {
	in := map[string]string{
		"username":    username,
		"email":       email,
		"placeholder": placeholder,
	}
	var out struct {
		NeedsCodeConfirmation bool        `json:"needs_code_confirmation"`
		Email                 string      `json:"email"`
		Token                 string      `json:"token"`
		User                  userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", in, &out); err != nil {
		return accountflow.CreateResult{}, err
	}
	return accountflow.CreateResult{
		NeedsCodeConfirmation: out.NeedsCodeConfirmation,
		Email:                 out.Email,
		Token:                 out.Token,
		User:                  out.User.toUser(),
	}, nil
}

// ConfirmRegistrationCode exchanges the code for the held token.
func (c *Client) ConfirmRegistrationCode(ctx context.Context, email, code string) (accountflow.ConfirmResult, error) {
	in := map[string]string{
		"email": email,
		"code":  code,
	}
	var out struct {
		Token string      `json:"token"`
		User  userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts/confirm", in, &out); err != nil {
		return accountflow.ConfirmResult{}, err
	}
	return accountflow.ConfirmResult{Token: out.Token, User: out.User.toUser()}, nil
}

// ResendCode re-issues the one-time code for (email, purpose).
func (c *Client) ResendCode(ctx context.Context, email string, purpose accountflow.CodePurpose) error {
	in := map[string]string{
		"email":   email,
		"purpose": string(purpose),
	}
	return c.do(ctx, http.MethodPost, "/v1/codes/resend", in, nil)
}

// RequestRecovery lists the accounts behind email.
func (c *Client) RequestRecovery(ctx context.Context, email string) ([]accountflow.AccountSummary, error) {
	in := map[string]string{"email": email}
	var out struct {
		Accounts []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Email    string `json:"email"`
		} `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/recovery/accounts", in, &out); err != nil {
		return nil, err
	}
	summaries := make([]accountflow.AccountSummary, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		summaries = append(summaries, accountflow.AccountSummary{
			ID:       a.ID,
			Username: a.Username,
			Email:    a.Email,
		})
	}
	return summaries, nil
}

// AuthenticateAccount checks password against one account.
func (c *Client) AuthenticateAccount(ctx context.Context, accountID, password string) (bool, error) {
	in := map[string]string{"password": password}
	var out struct {
		Match bool `json:"match"`
	}
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/authenticate"
	if err := c.do(ctx, http.MethodPost, path, in, &out); err != nil {
		return false, err
	}
	return out.Match, nil
}

// RequestRecoveryCode requests a reset code for (email, accountID).
func (c *Client) RequestRecoveryCode(ctx context.Context, email, accountID string) error {
	in := map[string]string{
		"email":      email,
		"account_id": accountID,
	}
	return c.do(ctx, http.MethodPost, "/v1/recovery/codes", in, nil)
}

// VerifyRecoveryCode checks the code without consuming it.
func (c *Client) VerifyRecoveryCode(ctx context.Context, email, accountID, code string) error {
	in := map[string]string{
		"email":      email,
		"account_id": accountID,
		"code":       code,
	}
	return c.do(ctx, http.MethodPost, "/v1/recovery/codes/verify", in, nil)
}

// FinalizeRegistration spends the held token and sets the real password.
func (c *Client) FinalizeRegistration(ctx context.Context, heldToken, password, fullName string) (accountflow.FinalizeResult, error) {
	in := map[string]string{
		"held_token": heldToken,
		"password":   password,
		"full_name":  fullName,
	}
	var out struct {
		Token string      `json:"token"`
		User  userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts/finalize", in, &out); err != nil {
		return accountflow.FinalizeResult{}, err
	}
	return accountflow.FinalizeResult{Token: out.Token, User: out.User.toUser()}, nil
}

// ResetPassword consumes the recovery code and replaces the password.
func (c *Client) ResetPassword(ctx context.Context, email, accountID, code, newPassword string) (accountflow.FinalizeResult, error) {
	in := map[string]string{
		"email":        email,
		"account_id":   accountID,
		"code":         code,
		"new_password": newPassword,
	}
	var out struct {
		Token string      `json:"token"`
		User  userPayload `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/recovery/reset", in, &out); err != nil {
		return accountflow.FinalizeResult{}, err
	}
	return accountflow.FinalizeResult{Token: out.Token, User: out.User.toUser()}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", accountflow.ErrIdentityUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", accountflow.ErrIdentityUnavailable, err)
		}
		return nil
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", accountflow.ErrIdentityUnavailable, resp.StatusCode)
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("%w: status %d", accountflow.ErrIdentityUnavailable, resp.StatusCode)
	}
	return sentinelForCode(envelope.Error.Code, resp.StatusCode)
}

// sentinelForCode maps the server's machine-readable error codes onto the
// flow sentinels. Unknown codes degrade to the transient sentinel so new
// server-side codes never crash old clients.
func sentinelForCode(code string, status int) error {
	switch code {
	case "username_invalid":
		return accountflow.ErrUsernameInvalid
	case "username_taken":
		return accountflow.ErrUsernameTaken
	case "email_invalid":
		return accountflow.ErrEmailInvalid
	case "account_exists":
		return accountflow.ErrAccountExists
	case "account_unknown":
		return accountflow.ErrAccountUnknown
	case "invalid_credentials":
		return accountflow.ErrInvalidCredentials
	case "code_invalid":
		return accountflow.ErrCodeInvalid
	case "code_expired":
		return accountflow.ErrCodeExpired
	case "code_attempts":
		return accountflow.ErrCodeAttempts
	case "password_policy":
		return accountflow.ErrPasswordPolicy
	case "rate_limited":
		return accountflow.ErrRateLimited
	case "held_token_expired":
		return accountflow.ErrHeldTokenExpired
	case "held_token_invalid":
		return accountflow.ErrHeldTokenMissing
	default:
		return fmt.Errorf("%w: code %q status %d", accountflow.ErrIdentityUnavailable, code, status)
	}
}
