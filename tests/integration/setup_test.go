//go:build integration

package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatgate/config"
	"chatgate/internal/app"
	"chatgate/internal/core"
	"chatgate/internal/providers"
	"chatgate/internal/providers/openai"
)

// GatewayConfig configures how the test gateway is set up.
type GatewayConfig struct {
	// StorageType is either "postgresql" or "mongodb".
	StorageType string
}

// GatewayFixture holds a running gateway and the fakes behind it.
type GatewayFixture struct {
	// ServerURL is the base URL of the running gateway.
	ServerURL string

	// App is the running application.
	App *app.App

	// IdP issues tokens the gateway accepts.
	IdP *tokenIssuer

	// Upstream is the scripted provider API.
	Upstream *mockUpstream

	// PgPool is the PostgreSQL connection pool (for DB assertions).
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions).
	MongoDb *mongo.Database

	cancelFunc context.CancelFunc
}

// SetupGateway assembles the gateway through app.New with audit logging
// pointed at one of the test containers, and waits for it to come up.
func SetupGateway(t *testing.T, cfg GatewayConfig) *GatewayFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(GetTestContext())

	idp, err := newTokenIssuer()
	require.NoError(t, err, "failed to start token issuer")

	upstream := newMockUpstream()

	// Rebind the openai builder so chat requests land on the mock.
	providers.Register("openai", func(credential string) core.Provider {
		p := openai.New(credential)
		p.SetBaseURL(upstream.URL() + "/v1")
		return p
	})

	// Find available port
	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	// Create app
	application, err := app.New(ctx, buildConfig(t, cfg, idp, port))
	require.NoError(t, err, "failed to create app")

	// Start server in background
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		_ = application.Start(fmt.Sprintf("127.0.0.1:%d", port))
	}()

	// Wait for server to be healthy
	err = waitForServer(serverURL + "/health")
	require.NoError(t, err, "server failed to become healthy")

	fixture := &GatewayFixture{
		ServerURL:  serverURL,
		App:        application,
		IdP:        idp,
		Upstream:   upstream,
		cancelFunc: cancel,
	}

	// Set database references for assertions
	switch cfg.StorageType {
	case "postgresql":
		fixture.PgPool = GetPostgreSQLPool()
	case "mongodb":
		fixture.MongoDb = GetMongoDatabase()
	}

	return fixture
}

// FlushAndClose shuts the app down, which flushes buffered audit entries.
// Call this before making any DB assertions.
func (f *GatewayFixture) FlushAndClose(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		err := f.App.Shutdown(ctx)
		require.NoError(t, err, "failed to shutdown app")
	}
}

// Shutdown gracefully stops the gateway and its supporting fakes.
func (f *GatewayFixture) Shutdown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		_ = f.App.Shutdown(ctx)
	}

	if f.Upstream != nil {
		f.Upstream.Close()
	}

	if f.IdP != nil {
		f.IdP.close()
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
	}
}

// buildConfig creates an application config for testing.
func buildConfig(t *testing.T, cfg GatewayConfig, idp *tokenIssuer, port int) *config.Config {
	t.Helper()

	appCfg := &config.Config{
		Server: config.ServerConfig{
			Port:            fmt.Sprintf("%d", port),
			BodySizeLimit:   "25M",
			ShutdownTimeout: 5 * time.Second,
		},
		OIDC: config.OIDCConfig{
			DiscoveryURL: idp.discoveryURL(),
		},
		Providers: config.ProvidersConfig{
			OpenAIAPIKey: "sk-test-key",
		},
		Logging: config.LoggingConfig{
			Level: "warn",
		},
		Audit: config.AuditConfig{
			Enabled:       true,
			StorageType:   cfg.StorageType,
			BufferSize:    100,
			FlushInterval: 100 * time.Millisecond,
			RetentionDays: 0,
		},
	}

	// Configure storage based on StorageType
	switch cfg.StorageType {
	case "postgresql":
		appCfg.Audit.PostgresDSN = GetPostgreSQLURL()
	case "mongodb":
		appCfg.Audit.MongoURI = GetMongoURL()
		appCfg.Audit.MongoDatabase = "chatgate_test"
	default:
		t.Fatalf("unsupported storage type: %s", cfg.StorageType)
	}

	return appCfg
}

// postChat sends an authenticated chat request tagged with a request ID.
func postChat(t *testing.T, f *GatewayFixture, token, requestID string, payload map[string]interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, f.ServerURL+"/chat", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// drainAndClose reads the streamed body to completion so the relay has
// finished before the test asserts on the recorded entry.
func drainAndClose(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return string(body)
}

// waitForServer waits for the server to become healthy.
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 50; i++ {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become healthy within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

const issuerKid = "integration-signing-key"

// tokenIssuer is a minimal identity provider: it serves a discovery
// document and a JWKS for one generated RSA key, and signs test tokens
// with the private half.
type tokenIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newTokenIssuer() (*tokenIssuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	ti := &tokenIssuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", ti.handleDiscovery)
	mux.HandleFunc("/jwks", ti.handleJWKS)
	ti.server = httptest.NewServer(mux)
	return ti, nil
}

func (ti *tokenIssuer) discoveryURL() string {
	return ti.server.URL + "/.well-known/openid-configuration"
}

func (ti *tokenIssuer) close() { ti.server.Close() }

// token signs a short-lived token for the given subject.
func (ti *tokenIssuer) token(t *testing.T, subject string) string {
	t.Helper()

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": ti.server.URL,
		"sub": subject,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	})
	token.Header["kid"] = issuerKid

	signed, err := token.SignedString(ti.key)
	require.NoError(t, err)
	return signed
}

func (ti *tokenIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":   ti.server.URL,
		"jwks_uri": ti.server.URL + "/jwks",
	})
}

func (ti *tokenIssuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := ti.key.Public().(*rsa.PublicKey)
	exponent := make([]byte, 0, 4)
	for e := pub.E; e > 0; e >>= 8 {
		exponent = append([]byte{byte(e & 0xff)}, exponent...)
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": issuerKid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(exponent),
		}},
	})
}

// upstreamFragments is the completion every mock chat request streams
// back, one SSE chunk per fragment.
var upstreamFragments = []string{"Recorded", " for", " posterity"}

const (
	upstreamInputTokens  = 9
	upstreamOutputTokens = 3
)

// mockUpstream stands in for the OpenAI API.
type mockUpstream struct {
	server *httptest.Server
}

func newMockUpstream() *mockUpstream {
	m := &mockUpstream{}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the server URL.
func (m *mockUpstream) URL() string { return m.server.URL }

// Close shuts down the server.
func (m *mockUpstream) Close() { m.server.Close() }

func (m *mockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	for _, fragment := range upstreamFragments {
		chunk := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"delta": map[string]string{"content": fragment}},
			},
		}
		data, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	final := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{}, "finish_reason": "stop"},
		},
		"usage": map[string]int{
			"prompt_tokens":     upstreamInputTokens,
			"completion_tokens": upstreamOutputTokens,
			"total_tokens":      upstreamInputTokens + upstreamOutputTokens,
		},
	}
	data, _ := json.Marshal(final)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
