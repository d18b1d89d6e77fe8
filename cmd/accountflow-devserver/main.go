// Package main runs a local Identity Store on :8080 backed by miniredis,
// serving the endpoints the accountflow engine and the identity HTTP client
// consume. One-time codes are printed to stdout instead of being emailed.
//
// Run:
//
//	go run ./cmd/accountflow-devserver
//
// Then point the flows at it:
//
//	client, _ := identity.NewClient("http://localhost:8080")
//	flows, _ := accountflow.New().WithIdentity(client).Build()
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MKNTW/accountflow"
	"github.com/MKNTW/accountflow/devstore"
)

func main() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		log.Fatal(err)
	}

	cfg := devstore.DefaultConfig()
	cfg.SigningKey = signingKey

	mailer := devstore.NewChannelMailer(64)
	store, err := devstore.New(cfg, rdb, mailer)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		for d := range mailer.Deliveries() {
			log.Printf("code for %s (%s): %s", d.Email, d.Purpose, d.Code)
		}
	}()

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           router(store),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Println("identity store listening on :8080")
	log.Fatal(srv.ListenAndServe())
}

func router(store *devstore.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/v1/usernames/{username}/availability", func(w http.ResponseWriter, req *http.Request) {
		available, err := store.CheckUsername(req.Context(), chi.URLParam(req, "username"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"available": available})
	})

	r.Post("/v1/accounts", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Username    string `json:"username"`
			Email       string `json:"email"`
			Placeholder string `json:"placeholder"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		result, err := store.CreateProvisionalAccount(req.Context(), in.Username, in.Email, in.Placeholder)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"needs_code_confirmation": result.NeedsCodeConfirmation,
			"email":                   result.Email,
			"token":                   result.Token,
			"user":                    userPayload(result.User),
		})
	})

	r.Post("/v1/accounts/confirm", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email string `json:"email"`
			Code  string `json:"code"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		result, err := store.ConfirmRegistrationCode(req.Context(), in.Email, in.Code)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": result.Token,
			"user":  userPayload(result.User),
		})
	})

	r.Post("/v1/codes/resend", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email   string `json:"email"`
			Purpose string `json:"purpose"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		if err := store.ResendCode(req.Context(), in.Email, accountflow.CodePurpose(in.Purpose)); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/recovery/accounts", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email string `json:"email"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		accounts, err := store.RequestRecovery(req.Context(), in.Email)
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]map[string]string, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, map[string]string{
				"id":       a.ID,
				"username": a.Username,
				"email":    a.Email,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": out})
	})

	r.Post("/v1/accounts/{accountID}/authenticate", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Password string `json:"password"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		match, err := store.AuthenticateAccount(req.Context(), chi.URLParam(req, "accountID"), in.Password)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"match": match})
	})

	r.Post("/v1/recovery/codes", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email     string `json:"email"`
			AccountID string `json:"account_id"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		if err := store.RequestRecoveryCode(req.Context(), in.Email, in.AccountID); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/recovery/codes/verify", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email     string `json:"email"`
			AccountID string `json:"account_id"`
			Code      string `json:"code"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		if err := store.VerifyRecoveryCode(req.Context(), in.Email, in.AccountID, in.Code); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/accounts/finalize", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			HeldToken string `json:"held_token"`
			Password  string `json:"password"`
			FullName  string `json:"full_name"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		result, err := store.FinalizeRegistration(req.Context(), in.HeldToken, in.Password, in.FullName)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": result.Token,
			"user":  userPayload(result.User),
		})
	})

	r.Post("/v1/recovery/reset", func(w http.ResponseWriter, req *http.Request) {
		var in struct {
			Email       string `json:"email"`
			AccountID   string `json:"account_id"`
			Code        string `json:"code"`
			NewPassword string `json:"new_password"`
		}
		if !readJSON(w, req, &in) {
			return
		}
		result, err := store.ResetPassword(req.Context(), in.Email, in.AccountID, in.Code, in.NewPassword)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": result.Token,
			"user":  userPayload(result.User),
		})
	})

	return r
}

func userPayload(u accountflow.User) map[string]interface{} {
	return map[string]interface{}{
		"id":          u.ID,
		"username":    u.Username,
		"email":       u.Email,
		"full_name":   u.FullName,
		"provisional": u.Provisional,
	}
}

func readJSON(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(v); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed_request", "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeErr maps the sentinel errors onto the wire codes the identity client
// translates back. The mapping must stay the inverse of the client's.
func writeErr(w http.ResponseWriter, err error) {
	for _, m := range errTable {
		if errors.Is(err, m.sentinel) {
			writeEnvelope(w, m.status, m.code, m.sentinel.Error())
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeEnvelope(w, http.StatusServiceUnavailable, "timeout", "request cancelled")
		return
	}
	writeEnvelope(w, http.StatusServiceUnavailable, "internal", "identity store unavailable")
}

var errTable = []struct {
	sentinel error
	status   int
	code     string
}{
	{accountflow.ErrUsernameInvalid, http.StatusBadRequest, "username_invalid"},
	{accountflow.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{accountflow.ErrEmailInvalid, http.StatusBadRequest, "email_invalid"},
	{accountflow.ErrAccountExists, http.StatusConflict, "account_exists"},
	{accountflow.ErrAccountUnknown, http.StatusNotFound, "account_unknown"},
	{accountflow.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{accountflow.ErrCodeInvalid, http.StatusUnauthorized, "code_invalid"},
	{accountflow.ErrCodeExpired, http.StatusGone, "code_expired"},
	{accountflow.ErrCodeAttempts, http.StatusTooManyRequests, "code_attempts"},
	{accountflow.ErrPasswordPolicy, http.StatusBadRequest, "password_policy"},
	{accountflow.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{accountflow.ErrHeldTokenExpired, http.StatusUnauthorized, "held_token_expired"},
	{accountflow.ErrHeldTokenMissing, http.StatusUnauthorized, "held_token_invalid"},
}
