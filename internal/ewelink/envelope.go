package ewelink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotAuthenticated  = errors.New("no access token available - exchange an authorization code first")
	ErrSignatureRejected = errors.New("provider rejected the request signature")
	ErrCodeExhausted     = errors.New("authorization code rejected - obtain a fresh code and try again")
	ErrTokenExpired      = errors.New("access token has expired")
	ErrRegionMismatch    = errors.New("token was issued by a different region")
)

// signVerificationFailed is the provider's error message for a request
// whose signature did not verify. It distinguishes "wrong signature
// method, try the next one" from errors that are terminal for the
// current authorization code.
const signVerificationFailed = "sign verification failed"

// Provider error codes observed for stale or invalid access tokens on
// device calls.
const (
	codeAccessDenied = 401
	codeTokenExpired = 402
)

// envelope is the provider's uniform response wrapper. A zero Error
// means success; otherwise Msg carries the provider's diagnostic text.
type envelope struct {
	Error int             `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

// isSignatureRejection reports whether the envelope indicates a
// signature-method problem rather than a terminal error.
func (e *envelope) isSignatureRejection() bool {
	return e.Error != 0 && strings.Contains(strings.ToLower(e.Msg), signVerificationFailed)
}

// isTokenRejection reports whether the envelope indicates a stale or
// invalid access token.
func (e *envelope) isTokenRejection() bool {
	return e.Error == codeAccessDenied || e.Error == codeTokenExpired
}

// DispatchError is a provider-level rejection of a device command. The
// raw provider message is retained for diagnostics.
type DispatchError struct {
	Code int
	Msg  string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("device command rejected with error code %d: %s", e.Code, e.Msg)
}

// Attempt records the outcome of one (region, signature strategy)
// combination during token acquisition.
type Attempt struct {
	Region   Region
	Strategy string
	Err      error
}

// AcquisitionError aggregates every attempted (region, strategy)
// combination so a human can diagnose which provider-side
// nonconformance is at play.
type AcquisitionError struct {
	Attempts []Attempt
}

func (e *AcquisitionError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("token acquisition failed after %d attempts:", len(e.Attempts)))
	for _, attempt := range e.Attempts {
		sb.WriteString(fmt.Sprintf(" [%s/%s: %v]", attempt.Region, attempt.Strategy, attempt.Err))
	}
	return sb.String()
}

func (e *AcquisitionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}
