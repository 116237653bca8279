package firebase

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Verifier validates signed tokens against the Firebase project it was
// configured for. It runs in one of two modes: issuer mode resolves the
// signing key from the key cache by the token's kid header, while
// self-issued mode checks the signature against a single caller-supplied
// key (used for re-validating this service's own session credentials).
//
// Checks run in a fixed order and the first failure wins: algorithm,
// signature, expiry, issued-at, audience, issuer, subject. Every failure is
// an ErrInvalidToken with a distinct reason.
type Verifier struct {
	projectID string
	keys      *KeyCache
	logger    *zap.Logger
}

// NewVerifier creates a Verifier for the given Firebase project
func NewVerifier(projectID string, keys *KeyCache, logger *zap.Logger) *Verifier {
	return &Verifier{
		projectID: projectID,
		keys:      keys,
		logger:    logger,
	}
}

// ProjectID returns the configured Firebase project ID
func (v *Verifier) ProjectID() string {
	return v.projectID
}

// VerifyIDToken validates an externally issued identity token in issuer mode
func (v *Verifier) VerifyIDToken(ctx context.Context, tokenString string) (*Claims, error) {
	return v.verify(ctx, tokenString, IssuerPrefix, v.projectID, nil)
}

// VerifySelfIssued validates a token in self-issued mode against a single
// trusted public key. The issuer and audience expectations are unchanged
// since session credentials carry the claims of the ID token they were
// minted from.
func (v *Verifier) VerifySelfIssued(tokenString string, publicKey *rsa.PublicKey) (*Claims, error) {
	return v.verify(context.Background(), tokenString, IssuerPrefix, v.projectID, publicKey)
}

func (v *Verifier) verify(ctx context.Context, tokenString, issuerPrefix, audience string, trusted *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}

	// The keyfunc enforces the algorithm and resolves the signing key; claim
	// validation is deferred so each check maps to its own reason in order.
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok || token.Method.Alg() != SigningAlgorithm {
			return nil, newTokenError(ReasonUnsupportedAlgorithm,
				fmt.Errorf("unexpected signing method: %v", token.Header["alg"]))
		}

		if trusted != nil {
			return trusted, nil
		}

		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, newTokenError(ReasonUnknownKey, errors.New("kid header not found"))
		}

		keys, err := v.keys.Get(ctx)
		if err != nil {
			// Fail closed: without keys no token can be verified.
			return nil, newTokenError(ReasonKeyUnavailable, err)
		}

		publicKey, ok := keys[kid]
		if !ok {
			return nil, newTokenError(ReasonUnknownKey, fmt.Errorf("kid %q not in current key set", kid))
		}
		return publicKey, nil
	}, jwt.WithoutClaimsValidation())

	if err != nil {
		var tokenErr *TokenError
		switch {
		case errors.As(err, &tokenErr):
			return nil, tokenErr
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, newTokenError(ReasonBadSignature, err)
		default:
			return nil, newTokenError(ReasonMalformed, err)
		}
	}
	if !token.Valid {
		return nil, newTokenError(ReasonBadSignature, errors.New("signature verification failed"))
	}

	now := time.Now()

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(now) {
		return nil, newTokenError(ReasonExpired, errors.New("expiration time (exp) must be in the future"))
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(now) {
		return nil, newTokenError(ReasonIssuedInFuture, errors.New("issued-at time (iat) must be in the past"))
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != audience {
		return nil, newTokenError(ReasonAudienceMismatch,
			fmt.Errorf("audience (aud) must be %q", audience))
	}
	if claims.Issuer != expectedIssuer(issuerPrefix, audience) {
		return nil, newTokenError(ReasonIssuerMismatch,
			fmt.Errorf("issuer (iss) must be %q, got %q", expectedIssuer(issuerPrefix, audience), claims.Issuer))
	}
	if claims.Subject == "" || len(claims.Subject) > MaxSubjectLength {
		return nil, newTokenError(ReasonInvalidSubject,
			errors.New("subject (sub) must be a non-empty string of at most 128 characters"))
	}

	v.logger.Debug("token verified",
		zap.String("sub", claims.Subject),
		zap.Bool("self_issued", trusted != nil))

	return claims, nil
}
