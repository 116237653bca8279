package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/upb/wikigate/engine"
	"github.com/upb/wikigate/utils"
)

// SessionLoginPath is the session-exchange endpoint, relative to the base path
const SessionLoginPath = "/gollum/session_login"

// Attribution headers forwarded to the upstream wiki so it can attribute
// writes. Always stripped from the inbound request first; clients must not
// be able to spoof them.
const (
	AuthSubjectHeader = "X-Auth-Subject"
	AuthEmailHeader   = "X-Auth-Email"
)

// GateConfig holds the HTTP-facing knobs of the gate
type GateConfig struct {
	CookieName        string
	BasePath          string
	FirebaseWebConfig string // JSON injected into the login page
	SecureCookie      bool
}

// Gate is the HTTP adapter around the decision engine. It reads the session
// cookie, runs the engine, and translates the decision into a pass-through,
// a login page, a set-cookie response, or a denial.
type Gate struct {
	engine    *engine.Engine
	config    GateConfig
	validate  *validator.Validate
	loginPage *loginPage
	logger    *zap.Logger
}

// NewGate creates a Gate
func NewGate(eng *engine.Engine, cfg GateConfig, logger *zap.Logger) *Gate {
	if cfg.CookieName == "" {
		cfg.CookieName = "session"
	}
	return &Gate{
		engine:    eng,
		config:    cfg,
		validate:  validator.New(),
		loginPage: newLoginPage(cfg.FirebaseWebConfig, cfg.BasePath),
		logger:    logger,
	}
}

// Wrap gates next behind the authorization decision
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == g.config.BasePath+SessionLoginPath {
			g.handleSessionLogin(w, r)
			return
		}

		decision := g.engine.Decide(r.Context(), engine.Request{
			Path:              r.URL.Path,
			Method:            r.Method,
			SessionCredential: g.sessionCookie(r),
		})

		switch decision.Kind {
		case engine.KindAllow:
			ctx := WithIdentity(r.Context(), decision.Identity)
			r = r.WithContext(ctx)
			r.Header.Del(AuthSubjectHeader)
			r.Header.Del(AuthEmailHeader)
			if decision.Identity != nil {
				r.Header.Set(AuthSubjectHeader, decision.Identity.Subject)
				r.Header.Set(AuthEmailHeader, decision.Identity.Email)
			}
			next.ServeHTTP(w, r)

		case engine.KindRedirectToLogin:
			g.loginPage.render(w)

		case engine.KindDeny:
			g.writeDenial(w, r, decision.Reason)

		default:
			g.logger.Error("unexpected decision kind",
				zap.Int("kind", int(decision.Kind)),
				zap.String("request_id", GetRequestIDFromContext(r.Context())))
			_ = utils.WriteInternalServerError(w, "")
		}
	})
}

// sessionLoginRequest is the body of the session-exchange endpoint
type sessionLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

// handleSessionLogin exchanges a fresh identity token for a session cookie
func (g *Gate) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var body sessionLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "invalid request body", nil)
		return
	}
	if err := g.validate.Struct(&body); err != nil {
		_ = utils.WriteBadRequest(w, "idToken is required", nil)
		return
	}

	decision := g.engine.Decide(r.Context(), engine.Request{
		Path:            r.URL.Path,
		Method:          r.Method,
		IDToken:         body.IDToken,
		SessionExchange: true,
	})

	switch decision.Kind {
	case engine.KindIssueSession:
		cookiePath := g.config.BasePath
		if cookiePath == "" {
			cookiePath = "/"
		}
		http.SetCookie(w, &http.Cookie{
			Name:     g.config.CookieName,
			Value:    decision.Credential,
			Expires:  decision.ExpiresAt,
			Path:     cookiePath,
			HttpOnly: true,
			Secure:   g.config.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
		g.logger.Info("session issued",
			zap.String("sub", decision.Identity.Subject),
			zap.String("request_id", GetRequestIDFromContext(r.Context())))
		_ = utils.WriteOK(w, map[string]interface{}{
			"expiresAt": decision.ExpiresAt.UTC(),
		})

	default:
		g.logger.Warn("session login rejected",
			zap.String("request_id", GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Failed to authorize")
	}
}

func (g *Gate) writeDenial(w http.ResponseWriter, r *http.Request, reason engine.DenyReason) {
	requestID := GetRequestIDFromContext(r.Context())
	if reason == engine.DenyForbidden {
		g.logger.Info("request forbidden",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID))
		_ = utils.WriteForbidden(w, "")
		return
	}
	g.logger.Info("request unauthorized",
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID))
	_ = utils.WriteUnauthorized(w, "")
}

// sessionCookie extracts the session credential, empty when absent
func (g *Gate) sessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(g.config.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
