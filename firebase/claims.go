package firebase

import (
	"github.com/golang-jwt/jwt/v5"
)

// IssuerPrefix is the issuer URL prefix for Firebase ID tokens; the full
// issuer is the prefix followed by the project ID.
const IssuerPrefix = "https://securetoken.google.com/"

// SigningAlgorithm is the only algorithm accepted for ID tokens and session credentials
const SigningAlgorithm = "RS256"

// MaxSubjectLength bounds the sub claim per the Firebase token contract
const MaxSubjectLength = 128

// Claims is the decoded token payload. Session credentials carry the same
// claim set as the ID token they were minted from, plus cxp.
type Claims struct {
	jwt.RegisteredClaims
	Email           string `json:"email,omitempty"`
	EmailVerified   bool   `json:"email_verified,omitempty"`
	CookieExpiresIn int64  `json:"cxp,omitempty"` // requested session lifetime in seconds; session credentials only
}

// expectedIssuer returns the issuer value a token with the given audience must carry
func expectedIssuer(issuerPrefix, audience string) string {
	return issuerPrefix + audience
}
