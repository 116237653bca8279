// Package session mints and verifies this service's own session credentials.
//
// A credential is the claim set of a verified Firebase ID token, re-signed
// with a keypair generated at process start and held only in memory. A
// restart therefore invalidates every outstanding credential; that is a
// known limitation accepted because credentials are short-lived relative to
// typical process uptime. Once minted, verifying a credential is pure local
// computation with no network calls.
package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/wikigate/firebase"
)

// Service mints session credentials from identity tokens and re-validates
// previously minted credentials against its own public key.
type Service struct {
	verifier *firebase.Verifier
	key      *rsa.PrivateKey
	kid      string
	logger   *zap.Logger
}

// NewService generates the process-local signing keypair and returns the
// service. The keypair is read-only after this point and never persisted.
func NewService(verifier *firebase.Verifier, logger *zap.Logger) (*Service, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session signing key: %w", err)
	}

	kid := uuid.NewString()
	logger.Info("session signing key generated", zap.String("kid", kid))

	return &Service{
		verifier: verifier,
		key:      key,
		kid:      kid,
		logger:   logger,
	}, nil
}

// Mint verifies the given identity token in issuer mode and, on success,
// re-signs its claim set with the service's own key, recording the requested
// lifetime in the cxp claim. Verification failures of the identity token are
// returned unchanged.
func (s *Service) Mint(ctx context.Context, idToken string, lifetime time.Duration) (string, *firebase.Claims, error) {
	claims, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", nil, err
	}

	sessionClaims := *claims
	sessionClaims.CookieExpiresIn = int64(lifetime.Seconds())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &sessionClaims)
	token.Header["kid"] = s.kid

	credential, err := token.SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session credential: %w", err)
	}

	s.logger.Debug("session credential minted",
		zap.String("sub", sessionClaims.Subject),
		zap.Duration("lifetime", lifetime))

	return credential, &sessionClaims, nil
}

// Verify re-validates a previously minted session credential against the
// service's own public key. Fails with ErrInvalidToken.
func (s *Service) Verify(credential string) (*firebase.Claims, error) {
	return s.verifier.VerifySelfIssued(credential, &s.key.PublicKey)
}

// PublicKey exposes the verification half of the process keypair
func (s *Service) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}
