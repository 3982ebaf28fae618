package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/clock"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/testutil"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = token.StaticSecret("middleware-test-secret-32-bytes!")

type results map[string]int

func (r results) TokenCheck(result string) { r[result]++ }

type authEnv struct {
	router   *gin.Engine
	tokens   *token.Authority
	accounts *store.Accounts
	sessions *session.Store
	clock    *clock.FakeClock
	checks   results
	alice    *model.Account
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)

	env := &authEnv{
		accounts: store.NewAccounts(db),
		sessions: session.NewStore(c),
		clock:    clock.Fake(time.Now()),
		checks:   results{},
	}
	env.tokens = token.New(secret, time.Hour, token.WithClock(env.clock))

	var err error
	env.alice, err = env.accounts.Save(context.Background(), &model.Account{
		Username: "alice", Email: "alice@example.com", PasswordHash: "x", Roles: []string{model.RoleUser},
	})
	require.NoError(t, err)

	auth := mw.NewAuthenticator(env.tokens, env.accounts, env.sessions, env.checks, zap.NewNop())
	env.router = gin.New()
	env.router.GET("/me", auth.Middleware(), func(c *gin.Context) {
		acc := mw.GetAccount(c)
		c.JSON(http.StatusOK, gin.H{"id": mw.GetAccountID(c), "username": acc.Username, "token": mw.GetToken(c)})
	})
	return env
}

// login mints a token for acc and registers its session.
func (e *authEnv) login(t *testing.T, acc *model.Account, kind string) string {
	t.Helper()
	tok, err := e.tokens.Issue(context.Background(), token.SessionClaims(acc.ID, acc.Roles, kind), acc.Username)
	require.NoError(t, err)
	require.NoError(t, e.sessions.Add(context.Background(), acc.ID, tok, time.Hour))
	return tok
}

func (e *authEnv) get(authorization string) (int, map[string]interface{}) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestAuth_Valid(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.login(t, env.alice, token.KindAccess)

	code, body := env.get("Bearer " + tok)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(env.alice.ID), body["id"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, tok, body["token"])
	assert.Equal(t, 1, env.checks["valid"])
}

func TestAuth_MissingOrMalformedHeader(t *testing.T) {
	env := newAuthEnv(t)
	for _, h := range []string{"", "Token abc", "Bearer"} {
		code, body := env.get(h)
		assert.Equal(t, http.StatusUnauthorized, code, "header %q", h)
		assert.Equal(t, "missing token", body["error"])
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	env := newAuthEnv(t)
	code, body := env.get("Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid token", body["error"])
	assert.Equal(t, 1, env.checks["invalid"])
}

func TestAuth_ExpiredToken(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.login(t, env.alice, token.KindAccess)
	env.clock.Advance(time.Hour)

	code, body := env.get("Bearer " + tok)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "token expired", body["error"])
	assert.Equal(t, 1, env.checks["expired"])
}

func TestAuth_RefreshTokenRejected(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.login(t, env.alice, token.KindRefresh)
	code, _ := env.get("Bearer " + tok)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuth_AccountIDMismatch(t *testing.T) {
	env := newAuthEnv(t)
	forged, err := env.tokens.Issue(context.Background(),
		token.SessionClaims(env.alice.ID+100, nil, token.KindAccess), "alice")
	require.NoError(t, err)
	require.NoError(t, env.sessions.Add(context.Background(), env.alice.ID, forged, time.Hour))

	code, body := env.get("Bearer " + forged)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid token", body["error"])
	assert.Equal(t, 1, env.checks["invalid"])
	assert.Zero(t, env.checks["valid"])
}

func TestAuth_UnknownSubject(t *testing.T) {
	env := newAuthEnv(t)
	ghost := &model.Account{ID: 999, Username: "ghost"}
	tok := env.login(t, ghost, token.KindAccess)
	code, _ := env.get("Bearer " + tok)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuth_BannedAccount(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.login(t, env.alice, token.KindAccess)
	require.NoError(t, env.accounts.SetStatus(context.Background(), env.alice.ID, model.AccountStatusBanned))

	code, body := env.get("Bearer " + tok)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "account banned", body["error"])
}

func TestAuth_RevokedSession(t *testing.T) {
	env := newAuthEnv(t)
	tok := env.login(t, env.alice, token.KindAccess)
	require.NoError(t, env.sessions.Revoke(context.Background(), env.alice.ID, tok))

	code, body := env.get("Bearer " + tok)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "session expired", body["error"])
}

func TestGetAccountID_Unset(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Zero(t, mw.GetAccountID(c))
	assert.Nil(t, mw.GetAccount(c))
	assert.Empty(t, mw.GetToken(c))
}
