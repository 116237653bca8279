package firebase

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCertURL is Google's published x509 certificate endpoint for
// Firebase ID token signing keys.
const DefaultCertURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// KeySet maps key IDs to their public keys
type KeySet map[string]*rsa.PublicKey

// KeyCache fetches and caches the issuer's current public signing keys.
// The cache TTL follows the max-age directive of the endpoint's
// Cache-Control response header. The set is replaced wholesale on each
// successful fetch and never served past its expiry; concurrent refetches
// are collapsed to a single in-flight request.
type KeyCache struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      KeySet
	fetchedAt time.Time
	expiresAt time.Time

	group singleflight.Group
}

// NewKeyCache creates a KeyCache for the given endpoint. An empty url selects
// the Google default.
func NewKeyCache(url string, httpTimeout time.Duration, logger *zap.Logger) *KeyCache {
	if url == "" {
		url = DefaultCertURL
	}
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}
	return &KeyCache{
		url:        url,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Get returns the current key set, fetching from the issuer when the cached
// set is absent or expired. A fetch failure is returned to every waiting
// caller; the previous set is never served past its own expiry.
func (c *KeyCache) Get(ctx context.Context) (KeySet, error) {
	if keys, ok := c.cached(); ok {
		return keys, nil
	}

	result, err, _ := c.group.Do("keys", func() (interface{}, error) {
		// A concurrent caller may have refreshed between our check and this flight.
		if keys, ok := c.cached(); ok {
			return keys, nil
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(KeySet), nil
}

// cached returns the key set if it exists and has not expired
func (c *KeyCache) cached() (KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys != nil && time.Now().Before(c.expiresAt) {
		return c.keys, true
	}
	return nil, false
}

// fetch retrieves the key material, parses it, and replaces the cached set
func (c *KeyCache) fetch(ctx context.Context) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrKeyFetch, resp.StatusCode)
	}

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}

	keys := make(KeySet, len(raw))
	for kid, pemCert := range raw {
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
		if err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrKeyFormat, kid, err)
		}
		keys[kid] = publicKey
	}

	maxAge := parseMaxAge(resp.Header.Get("Cache-Control"))
	if maxAge < 0 {
		maxAge = 0
	}

	now := time.Now()
	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = now
	c.expiresAt = now.Add(time.Duration(maxAge) * time.Second)
	c.mu.Unlock()

	c.logger.Debug("signing keys refreshed",
		zap.Int("key_count", len(keys)),
		zap.Int("max_age_seconds", maxAge))

	return keys, nil
}

// parseMaxAge extracts the max-age value from a Cache-Control header.
// Returns 0 when the directive is absent or invalid.
func parseMaxAge(cacheControl string) int {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			maxAge, err := strconv.Atoi(value)
			if err != nil {
				return 0
			}
			return maxAge
		}
	}
	return 0
}
