// Package engine makes the per-request authorization decision. It is the
// only component with request-shaped input and output; the HTTP adapter
// translates its decisions into responses.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/wikigate/firebase"
	"github.com/upb/wikigate/policy"
)

// Identity is the user resolved from a verified credential
type Identity struct {
	Subject string
	Email   string
}

// Kind enumerates the decision variants
type Kind int

const (
	// KindAllow lets the request through to the protected application
	KindAllow Kind = iota
	// KindIssueSession returns a freshly minted session credential
	KindIssueSession
	// KindRedirectToLogin sends the client to the login page
	KindRedirectToLogin
	// KindDeny rejects the request
	KindDeny
)

// DenyReason distinguishes a failed credential exchange from a policy denial
type DenyReason string

const (
	DenyUnauthorized DenyReason = "unauthorized"
	DenyForbidden    DenyReason = "forbidden"
)

// Decision is the outcome of one request. Produced fresh per request, never cached.
type Decision struct {
	Kind       Kind
	Identity   *Identity  // set on Allow (nil for anonymous reads) and IssueSession
	Credential string     // set on IssueSession
	ExpiresAt  time.Time  // set on IssueSession
	Reason     DenyReason // set on Deny
}

// Request is the engine's view of an inbound request
type Request struct {
	Path   string
	Method string

	// SessionCredential is the cookie-sourced credential, empty when absent
	SessionCredential string

	// IDToken is the body-sourced identity token; only meaningful when
	// SessionExchange is set
	IDToken         string
	SessionExchange bool
}

// CredentialService mints and verifies session credentials
type CredentialService interface {
	Mint(ctx context.Context, idToken string, lifetime time.Duration) (string, *firebase.Claims, error)
	Verify(credential string) (*firebase.Claims, error)
}

// Engine orchestrates credential verification and policy evaluation into a
// single decision per request. Stateless per invocation.
type Engine struct {
	sessions        CredentialService
	policy          *policy.Policy
	classifier      *policy.Classifier
	sessionLifetime time.Duration
	logger          *zap.Logger
}

// New creates an Engine
func New(sessions CredentialService, pol *policy.Policy, classifier *policy.Classifier, sessionLifetime time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		sessions:        sessions,
		policy:          pol,
		classifier:      classifier,
		sessionLifetime: sessionLifetime,
		logger:          logger,
	}
}

// Decide evaluates one request and returns the terminal decision
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	if req.SessionExchange {
		return e.exchange(ctx, req)
	}

	identity := e.resolveIdentity(req.SessionCredential)

	access := e.classifier.Classify(req.Path, req.Method)
	page := e.classifier.Page(req.Path)

	banned := e.isBanned(identity)
	protectedBlocked := e.policy.IsProtectedPage(page) && !e.adminMayPass(identity)

	if access == policy.AccessRead && e.policy.AllowUnauthenticatedReads && !banned && !protectedBlocked {
		return Decision{Kind: KindAllow, Identity: identity}
	}

	// Write path, or reads require authentication, or an escalation is needed.
	if identity == nil {
		return Decision{Kind: KindRedirectToLogin}
	}
	if banned {
		e.logger.Info("banned identity denied",
			zap.String("sub", identity.Subject),
			zap.String("path", req.Path))
		return Decision{Kind: KindDeny, Reason: DenyForbidden}
	}
	if protectedBlocked {
		e.logger.Info("protected page denied",
			zap.String("sub", identity.Subject),
			zap.String("page", page))
		return Decision{Kind: KindDeny, Reason: DenyForbidden}
	}

	return Decision{Kind: KindAllow, Identity: identity}
}

// exchange handles the session-exchange endpoint: verify the submitted
// identity token and mint a session credential. Unlike session verification,
// failures here are surfaced since the caller just submitted the token.
func (e *Engine) exchange(ctx context.Context, req Request) Decision {
	credential, claims, err := e.sessions.Mint(ctx, req.IDToken, e.sessionLifetime)
	if err != nil {
		e.logger.Warn("session exchange failed",
			zap.String("reason", string(firebase.TokenReason(err))),
			zap.Error(err))
		return Decision{Kind: KindDeny, Reason: DenyUnauthorized}
	}

	identity := &Identity{Subject: claims.Subject, Email: claims.Email}

	// A banned identity never receives a credential, even with a valid token.
	if e.isBanned(identity) {
		e.logger.Info("session exchange refused for banned identity",
			zap.String("sub", identity.Subject))
		return Decision{Kind: KindDeny, Reason: DenyUnauthorized}
	}

	return Decision{
		Kind:       KindIssueSession,
		Identity:   identity,
		Credential: credential,
		ExpiresAt:  time.Now().Add(e.sessionLifetime),
	}
}

// resolveIdentity verifies the session credential if present. Any
// verification failure downgrades to anonymous: an expired or tampered
// cookie must look exactly like no cookie at all.
func (e *Engine) resolveIdentity(credential string) *Identity {
	if credential == "" {
		return nil
	}
	claims, err := e.sessions.Verify(credential)
	if err != nil {
		e.logger.Debug("session credential rejected, treating as anonymous",
			zap.String("reason", string(firebase.TokenReason(err))))
		return nil
	}
	return &Identity{Subject: claims.Subject, Email: claims.Email}
}

// isBanned checks the banned list against the identity's subject and email
func (e *Engine) isBanned(id *Identity) bool {
	if id == nil {
		return false
	}
	return e.policy.IsBanned(id.Subject) || e.policy.IsBanned(id.Email)
}

// adminMayPass reports whether the identity clears a protected page
func (e *Engine) adminMayPass(id *Identity) bool {
	if id == nil || !e.policy.AdminBypassProtected {
		return false
	}
	return e.policy.IsAdmin(id.Subject) || e.policy.IsAdmin(id.Email)
}
