package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

// fakeIDP is an in-process identity provider serving a discovery
// document and a JWKS whose advertised keys tests can change at will.
type fakeIDP struct {
	server *httptest.Server

	mu              sync.Mutex
	advertised      map[string]*rsa.PrivateKey
	discoveryHits   int
	jwksHits        int
	discoveryStatus int
	discoveryBody   string
	jwksBody        string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()

	idp := &fakeIDP{advertised: make(map[string]*rsa.PrivateKey)}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/jwks", idp.handleJWKS)

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (f *fakeIDP) issuer() string { return f.server.URL }

func (f *fakeIDP) discoveryURL() string {
	return f.server.URL + "/.well-known/openid-configuration"
}

// addKey generates an RSA key, advertises it under kid, and returns the
// private half for signing test tokens.
func (f *fakeIDP) addKey(t *testing.T, kid string) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.mu.Lock()
	f.advertised[kid] = key
	f.mu.Unlock()
	return key
}

func (f *fakeIDP) removeKey(kid string) {
	f.mu.Lock()
	delete(f.advertised, kid)
	f.mu.Unlock()
}

func (f *fakeIDP) setDiscoveryStatus(status int) {
	f.mu.Lock()
	f.discoveryStatus = status
	f.mu.Unlock()
}

func (f *fakeIDP) setDiscoveryBody(body string) {
	f.mu.Lock()
	f.discoveryBody = body
	f.mu.Unlock()
}

func (f *fakeIDP) setJWKSBody(body string) {
	f.mu.Lock()
	f.jwksBody = body
	f.mu.Unlock()
}

func (f *fakeIDP) counts() (discovery, jwks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoveryHits, f.jwksHits
}

func (f *fakeIDP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.discoveryHits++
	status, body := f.discoveryStatus, f.discoveryBody
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if body != "" {
		w.Write([]byte(body))
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"issuer":            f.server.URL,
		"jwks_uri":          f.server.URL + "/jwks",
		"userinfo_endpoint": f.server.URL + "/userinfo",
	})
}

func (f *fakeIDP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.jwksHits++
	body := f.jwksBody
	keys := make([]map[string]string, 0, len(f.advertised))
	for kid, key := range f.advertised {
		pub := key.Public().(*rsa.PublicKey)
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(exponentBytes(pub.E)),
		})
	}
	f.mu.Unlock()

	if body != "" {
		w.Write([]byte(body))
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"keys": keys})
}

func exponentBytes(e int) []byte {
	var out []byte
	for e > 0 {
		out = append([]byte{byte(e & 0xff)}, out...)
		e >>= 8
	}
	return out
}

// signToken signs claims as an RS256 token carrying kid in its header.
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
