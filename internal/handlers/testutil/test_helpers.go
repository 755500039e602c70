package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/api"
	"github.com/charlesng35/mailbridge/internal/app"
	iauth "github.com/charlesng35/mailbridge/internal/auth"
	sharedtestutil "github.com/charlesng35/mailbridge/internal/database/testutil"
	"github.com/charlesng35/mailbridge/internal/vault"
	"github.com/charlesng35/mailbridge/pkg/crypto"
	"github.com/charlesng35/mailbridge/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Token  string
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
// Token carries an unscoped access token.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		OAuth: app.OAuthConfig{RedirectURL: "https://bridge.test/oauth/callback"},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sealer, err := vault.NewSealer([]byte("0123456789abcdef0123456789abcdef"),
		vault.WithArgon2Parameters(crypto.Argon2Parameters{Time: 1, Memory: 64, Threads: 1, KeyLength: 32}),
	)
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, sealer)
	require.NoError(t, err)

	env := &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
	}
	env.Token = env.IssueToken("operator@test")
	return env
}

// IssueToken signs an access token for subject limited to scopes.
func (e *Env) IssueToken(subject string, scopes ...string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{Subject: subject, Scopes: scopes})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// MustCreate issues an authenticated request expecting 201 and decodes the data payload into dest.
func MustCreate[T any](e *Env, path string, body any, dest *T) {
	e.T.Helper()
	w := e.Request(http.MethodPost, path, body, e.Token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())
	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success)
	DecodeInto(e.T, resp.Data, dest)
}
