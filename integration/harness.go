package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/api"
	apirest "github.com/kasuganosora/moviemaster/api/rest"
	"github.com/kasuganosora/moviemaster/api/sse"
	"github.com/kasuganosora/moviemaster/api/ws"
	"github.com/kasuganosora/moviemaster/audit"
	"github.com/kasuganosora/moviemaster/cache"
	"github.com/kasuganosora/moviemaster/clock"
	"github.com/kasuganosora/moviemaster/config"
	"github.com/kasuganosora/moviemaster/metrics"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/plugin/hook"
	"github.com/kasuganosora/moviemaster/scheduler"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/testutil"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin-key"

// TestServer is a real HTTP server with every subsystem wired as in main.go.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Hooks    *hook.HookCenter
	Social   *social.Service
	Audit    *audit.Service
	Sched    *scheduler.Scheduler
	Clock    *clock.FakeClock
	Registry *prometheus.Registry
	Server   *httptest.Server
	URL      string
	Cfg      *config.Config

	cancel context.CancelFunc
}

// NewTestServer creates a fully wired server for integration testing.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &config.Config{
		Server: config.ServerConfig{AdminKey: AdminKey},
		Security: config.SecurityConfig{
			JWTSecret:      "integration-test-secret-32-bytes",
			TokenTTL:       time.Hour,
			RefreshTTL:     24 * time.Hour,
			BcryptCost:     bcrypt.MinCost,
			RateLimitRPS:   1000,
			RateLimitBurst: 2000,
		},
		Social: config.SocialConfig{PendingTTL: 48 * time.Hour, SweepInterval: time.Hour},
	}
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	fake := clock.Fake(time.Now())

	accounts := store.NewAccounts(db)
	sessions := session.NewStore(c)
	tokens := token.New(token.StaticSecret(cfg.Security.JWTSecret), cfg.Security.TokenTTL)
	hooks := hook.NewHookCenter()
	socialSvc := social.NewService(accounts, store.NewFriendships(db), logger,
		social.WithClock(fake),
		social.WithHooks(hooks),
		social.WithNotifier(social.NewPubSubNotifier(pubsub)),
		social.WithRecorder(collector))
	authn := mw.NewAuthenticator(tokens, accounts, sessions, collector, logger)
	auditSvc := audit.New(db, audit.Config{FlushInterval: 20 * time.Millisecond}, logger)

	sched := scheduler.New(ctx, logger)
	require.NoError(t, sched.AddTicker("friend_request_expiry", cfg.Social.SweepInterval, false,
		socialSvc.ExpiryTask(cfg.Social.PendingTTL)))

	wsRouter := ws.NewRouter(logger)
	ws.RegisterSocialHandlers(wsRouter, socialSvc)

	r := api.NewRouter(ctx, cfg, api.Deps{
		Auth:     apirest.NewAuthHandler(accounts, tokens, sessions, cfg.Security, auditSvc, logger),
		Social:   apirest.NewSocialHandler(socialSvc, auditSvc, logger),
		Admin:    apirest.NewAdminHandler(accounts, sessions, sched, auditSvc, logger),
		SSE:      sse.NewHandler(pubsub, authn, time.Second, logger),
		WS:       ws.NewHandler(authn, pubsub, wsRouter, nil, logger),
		Authn:    authn,
		Metrics:  collector,
		Gatherer: reg,
		Logger:   logger,
	})

	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Hooks:    hooks,
		Social:   socialSvc,
		Audit:    auditSvc,
		Sched:    sched,
		Clock:    fake,
		Registry: reg,
		Server:   server,
		URL:      server.URL,
		Cfg:      cfg,
		cancel:   cancel,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close stops the server and background work. Safe to call twice.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Audit.Stop(context.Background())
	ts.cancel()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, bearer(token))
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, bearer(token))
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, bearer(token))
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, path, body, map[string]string{"X-Admin-Key": AdminKey})
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// RequireStatus fails unless resp has status want and closes the body.
func RequireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		require.Equal(t, want, resp.StatusCode, "body: %s", string(data))
	}
}

// --- Auth helpers ---

// User is a registered and logged-in account.
type User struct {
	ID           int64
	Username     string
	Token        string
	RefreshToken string
}

// Signup registers username and logs in.
func (ts *TestServer) Signup(t *testing.T, username string) User {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	}, "")
	RequireStatus(t, resp, http.StatusCreated)
	return ts.Login(t, username, "password123")
}

// Login logs in an existing account.
func (ts *TestServer) Login(t *testing.T, username, password string) User {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    int64  `json:"account_id"`
	}
	ReadJSON(t, resp, &result)
	return User{ID: result.AccountID, Username: username, Token: result.Token, RefreshToken: result.RefreshToken}
}

var uidCounter int64

// UniqueID returns prefix plus a process-unique suffix, kept alphanumeric so
// it passes username validation.
func UniqueID(prefix string) string {
	n := atomic.AddInt64(&uidCounter, 1)
	return fmt.Sprintf("%s%d%d", prefix, time.Now().UnixNano()%1_000_000, n)
}
