package firebase

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is the umbrella error for every token validation failure
	ErrInvalidToken = errors.New("invalid token")

	// ErrKeyFetch is returned when the signing key endpoint is unreachable or non-200
	ErrKeyFetch = errors.New("failed to fetch signing keys")

	// ErrKeyFormat is returned when the signing key response cannot be parsed
	ErrKeyFormat = errors.New("unparsable signing key material")
)

// Reason identifies which validation check rejected a token
type Reason string

const (
	ReasonMalformed            Reason = "malformed"
	ReasonUnsupportedAlgorithm Reason = "unsupported_algorithm"
	ReasonUnknownKey           Reason = "unknown_key"
	ReasonBadSignature         Reason = "bad_signature"
	ReasonExpired              Reason = "expired"
	ReasonIssuedInFuture       Reason = "issued_in_future"
	ReasonAudienceMismatch     Reason = "audience_mismatch"
	ReasonIssuerMismatch       Reason = "issuer_mismatch"
	ReasonInvalidSubject       Reason = "invalid_subject"
	ReasonKeyUnavailable       Reason = "key_unavailable"
)

// TokenError is a token validation failure carrying a machine-readable reason.
// It matches ErrInvalidToken under errors.Is so callers can treat all
// validation failures uniformly while logging the specific reason.
type TokenError struct {
	Reason Reason
	Err    error
}

// Error implements the error interface
func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid token (%s)", e.Reason)
}

// Unwrap implements errors.Unwrap
func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is; a TokenError matches ErrInvalidToken and any
// TokenError with the same reason.
func (e *TokenError) Is(target error) bool {
	if target == ErrInvalidToken {
		return true
	}
	t, ok := target.(*TokenError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

func newTokenError(reason Reason, err error) *TokenError {
	return &TokenError{Reason: reason, Err: err}
}

// TokenReason returns the validation reason of err, or empty if err is not a TokenError
func TokenReason(err error) Reason {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason
	}
	return ""
}
