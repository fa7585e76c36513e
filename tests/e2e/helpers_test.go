//go:build e2e

package e2e

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const chatPath = "/chat"

// signedToken signs claims with the fake IdP's key, filling in valid
// iss, exp, and iat when the caller does not set them.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	now := time.Now()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = idp.issuer()
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = now.Add(time.Hour).Unix()
	}
	if _, ok := claims["iat"]; !ok {
		claims["iat"] = now.Unix()
	}

	return signWithKey(t, idp.key, claims)
}

func signWithKey(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// expiredToken returns a correctly signed token whose lifetime is over.
func expiredToken(t *testing.T) string {
	t.Helper()
	past := time.Now().Add(-2 * time.Hour)
	return signedToken(t, jwt.MapClaims{
		"sub": "expired-user",
		"exp": past.Add(time.Hour).Unix(),
		"iat": past.Unix(),
	})
}

// foreignToken returns a token signed by a key the IdP never advertised.
func foreignToken(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()
	return signWithKey(t, key, jwt.MapClaims{
		"sub": "intruder",
		"iss": idp.issuer(),
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
}

// postChat sends a chat request to the shared gateway.
func postChat(t *testing.T, token string, payload interface{}) *http.Response {
	t.Helper()
	return postChatTo(t, gatewayURL, token, payload, nil)
}

// postChatTo sends a chat request to an arbitrary gateway instance.
func postChatTo(t *testing.T, baseURL, token string, payload interface{}, headers map[string]string) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, baseURL+chatPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// postChatNoT sends a chat request without using testing.T, for calls
// made from goroutines.
func postChatNoT(token string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, gatewayURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return client.Do(req)
}

// authedGet sends a GET request with an optional bearer token.
func authedGet(t *testing.T, path, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, gatewayURL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// readBody drains and closes the response body.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer closeBody(resp)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// readAllNoT drains and closes the body without using testing.T, for
// calls made from goroutines.
func readAllNoT(resp *http.Response) (string, error) {
	defer closeBody(resp)
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// errorEnvelope is the gateway's JSON error shape.
type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeError parses the error envelope from the response body.
func decodeError(t *testing.T, resp *http.Response) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &envelope))
	return envelope
}
