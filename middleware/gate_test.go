package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/wikigate/engine"
	"github.com/upb/wikigate/firebase"
	"github.com/upb/wikigate/policy"
	"github.com/upb/wikigate/session"
)

const testProjectID = "test-wiki-project"

// Test fixture wiring the whole gate: fake issuer, key endpoint, session
// service, engine, and a next handler that records whether it was reached.
type gateFixture struct {
	issuerKey *rsa.PrivateKey
	gate      *Gate
	next      *recordingHandler
	handler   http.Handler
}

type recordingHandler struct {
	called   bool
	identity *engine.Identity
	headers  http.Header
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity = GetIdentityFromContext(r.Context())
	h.headers = r.Header.Clone()
	w.WriteHeader(http.StatusOK)
}

func newGateFixture(t *testing.T, pol *policy.Policy) *gateFixture {
	t.Helper()

	issuerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&issuerKey.PublicKey)
	require.NoError(t, err)
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	keyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(map[string]string{"issuer-kid": keyPEM})
	}))
	t.Cleanup(keyServer.Close)

	logger := zap.NewNop()
	cache := firebase.NewKeyCache(keyServer.URL, 5*time.Second, logger)
	verifier := firebase.NewVerifier(testProjectID, cache, logger)
	sessions, err := session.NewService(verifier, logger)
	require.NoError(t, err)

	eng := engine.New(sessions, pol, policy.NewClassifier(""), time.Hour, logger)
	gate := NewGate(eng, GateConfig{
		FirebaseWebConfig: `{"apiKey":"test","projectId":"test-wiki-project"}`,
	}, logger)

	next := &recordingHandler{}
	return &gateFixture{
		issuerKey: issuerKey,
		gate:      gate,
		next:      next,
		handler:   gate.Wrap(next),
	}
}

// issueToken signs a valid ID token for the fixture's fake issuer
func (f *gateFixture) issueToken(t *testing.T, subject, email string) string {
	t.Helper()
	now := time.Now()
	claims := &firebase.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    firebase.IssuerPrefix + testProjectID,
			Audience:  jwt.ClaimStrings{testProjectID},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "issuer-kid"
	signed, err := token.SignedString(f.issuerKey)
	require.NoError(t, err)
	return signed
}

// login runs the session exchange and returns the issued cookie
func (f *gateFixture) login(t *testing.T, idToken string) *http.Cookie {
	t.Helper()
	body := strings.NewReader(`{"idToken":"` + idToken + `"}`)
	req := httptest.NewRequest(http.MethodPost, SessionLoginPath, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func openPolicy() *policy.Policy {
	return &policy.Policy{
		AllowUnauthenticatedReads: true,
		AdminBypassProtected:      true,
	}
}

func TestGate_AnonymousReadPassesThrough(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	req := httptest.NewRequest(http.MethodGet, "/Home", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.next.called)
	assert.Nil(t, f.next.identity)
}

func TestGate_AnonymousWriteGetsLoginPage(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	req := httptest.NewRequest(http.MethodPost, "/gollum/edit/Home", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "firebaseui")
	assert.Contains(t, rec.Body.String(), SessionLoginPath)
	assert.False(t, f.next.called)
}

func TestGate_SessionLoginIssuesCookie(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	cookie := f.login(t, f.issueToken(t, "user-123", "user@example.com"))

	assert.Equal(t, "session", cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.Expires.After(time.Now()))
}

func TestGate_SessionCookieAuthenticatesWrites(t *testing.T) {
	f := newGateFixture(t, openPolicy())
	cookie := f.login(t, f.issueToken(t, "user-123", "user@example.com"))

	req := httptest.NewRequest(http.MethodPost, "/gollum/edit/Home", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.next.called)
	require.NotNil(t, f.next.identity)
	assert.Equal(t, "user-123", f.next.identity.Subject)
	assert.Equal(t, "user@example.com", f.next.identity.Email)
	assert.Equal(t, "user-123", f.next.headers.Get(AuthSubjectHeader))
	assert.Equal(t, "user@example.com", f.next.headers.Get(AuthEmailHeader))
}

func TestGate_AnonymousRequestsCannotSpoofAttribution(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	req := httptest.NewRequest(http.MethodGet, "/Home", nil)
	req.Header.Set(AuthSubjectHeader, "user-1")
	req.Header.Set(AuthEmailHeader, "alice@example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.True(t, f.next.called)
	assert.Empty(t, f.next.headers.Get(AuthSubjectHeader))
	assert.Empty(t, f.next.headers.Get(AuthEmailHeader))
}

func TestGate_TamperedCookieGetsLoginPage(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	req := httptest.NewRequest(http.MethodPost, "/gollum/edit/Home", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "garbage"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.False(t, f.next.called)
}

func TestGate_SessionLoginRejectsBadRequests(t *testing.T) {
	f := newGateFixture(t, openPolicy())

	tests := []struct {
		name     string
		method   string
		body     string
		expected int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"not json", http.MethodPost, "not json", http.StatusBadRequest},
		{"missing idToken", http.MethodPost, `{}`, http.StatusBadRequest},
		{"invalid token", http.MethodPost, `{"idToken":"not.a.token"}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, SessionLoginPath, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestGate_BannedUserForbidden(t *testing.T) {
	pol := openPolicy()
	pol.Banned = policy.StaticList{"mallory@example.com"}
	f := newGateFixture(t, pol)

	// Banned at exchange time: no cookie issued.
	body := strings.NewReader(`{"idToken":"` + f.issueToken(t, "user-666", "mallory@example.com") + `"}`)
	req := httptest.NewRequest(http.MethodPost, SessionLoginPath, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestGate_BannedAfterIssueForbidden(t *testing.T) {
	// The ban lands after the session was issued.
	pol := openPolicy()
	f := newGateFixture(t, pol)
	cookie := f.login(t, f.issueToken(t, "user-666", "mallory@example.com"))

	pol.Banned = policy.StaticList{"mallory@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/Home", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, f.next.called)
}

func TestGate_ProtectedPageForbiddenForNonAdmin(t *testing.T) {
	pol := openPolicy()
	pol.ProtectedPages = policy.StaticList{"Home"}
	pol.Admins = policy.StaticList{"alice@example.com"}
	f := newGateFixture(t, pol)
	cookie := f.login(t, f.issueToken(t, "user-123", "bob@example.com"))

	req := httptest.NewRequest(http.MethodPost, "/gollum/edit/Home", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, f.next.called)
}

func TestGetIdentityFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.Nil(t, GetIdentityFromContext(req.Context()))
}
