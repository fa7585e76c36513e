// Package oidc implements bearer-token validation against an OpenID
// Connect identity provider: discovery-document resolution, signing-key
// caching, and JWT verification.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// discoveryTTL is how long a fetched discovery document stays fresh.
const discoveryTTL = time.Hour

var (
	// ErrDiscoveryUnavailable reports that the identity provider's
	// discovery document or key set could not be fetched. Callers treat
	// it as an authentication failure, not a fatal fault.
	ErrDiscoveryUnavailable = errors.New("oidc: discovery document unavailable")

	// ErrKeyNotFound reports that the provider's key set does not
	// contain the requested key ID.
	ErrKeyNotFound = errors.New("oidc: signing key not found")
)

// DiscoveryDocument is the subset of the OpenID configuration the
// gateway uses.
type DiscoveryDocument struct {
	Issuer           string `json:"issuer"`
	JWKSURI          string `json:"jwks_uri"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
}

// KeyResolver fetches and caches the identity provider's discovery
// document and RSA signing keys.
//
// The discovery document is cached whole for one hour and replaced
// atomically on refresh. The key cache is additive: a key-set fetch
// inserts keys and never removes them while the process runs, so a key
// resolved once stays resolvable for the process lifetime. Concurrent
// lookups racing a cache miss may each fetch the key set; the duplicate
// fetch is accepted because inserts are idempotent.
type KeyResolver struct {
	discoveryURL string
	client       *http.Client
	now          func() time.Time

	mu        sync.RWMutex
	doc       *DiscoveryDocument
	docExpiry time.Time
	keys      map[string]*rsa.PublicKey
}

// NewKeyResolver creates a resolver against the given well-known
// discovery URL.
func NewKeyResolver(discoveryURL string) *KeyResolver {
	return &KeyResolver{
		discoveryURL: discoveryURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		keys:         make(map[string]*rsa.PublicKey),
	}
}

// SetHTTPClient replaces the HTTP client used for discovery and key-set
// fetches. Used in tests.
func (r *KeyResolver) SetHTTPClient(client *http.Client) {
	r.client = client
}

// SetNow replaces the clock used for cache expiry. Used in tests.
func (r *KeyResolver) SetNow(now func() time.Time) {
	r.now = now
}

// Discovery returns the provider's discovery document, fetching it when
// the cached copy is missing or stale.
func (r *KeyResolver) Discovery(ctx context.Context) (*DiscoveryDocument, error) {
	r.mu.RLock()
	doc, expiry := r.doc, r.docExpiry
	r.mu.RUnlock()

	if doc != nil && r.now().Before(expiry) {
		return doc, nil
	}

	fetched, err := r.fetchDiscovery(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.doc = fetched
	r.docExpiry = r.now().Add(discoveryTTL)
	r.mu.Unlock()

	return fetched, nil
}

func (r *KeyResolver) fetchDiscovery(ctx context.Context) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryUnavailable, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d from %s", ErrDiscoveryUnavailable, resp.StatusCode, r.discoveryURL)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ErrDiscoveryUnavailable, err)
	}
	if doc.Issuer == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: response missing issuer or jwks_uri", ErrDiscoveryUnavailable)
	}

	return &doc, nil
}
