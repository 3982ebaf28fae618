package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/api/rest"
	"github.com/kasuganosora/moviemaster/audit"
	"github.com/kasuganosora/moviemaster/config"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/scheduler"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/testutil"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "test-admin-key"

type recordingAuditor struct{ entries []audit.Entry }

func (r *recordingAuditor) Log(e audit.Entry) { r.entries = append(r.entries, e) }

func (r *recordingAuditor) actions() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type env struct {
	router   *gin.Engine
	accounts *store.Accounts
	sessions *session.Store
	tokens   *token.Authority
	sched    *scheduler.Scheduler
	audit    *recordingAuditor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		TokenTTL:   time.Hour,
		RefreshTTL: 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
	e := &env{
		accounts: store.NewAccounts(db),
		sessions: session.NewStore(c),
		tokens:   token.New(token.StaticSecret("rest-handler-test-secret-32bytes"), sec.TokenTTL),
		sched:    scheduler.New(context.Background(), logger),
		audit:    &recordingAuditor{},
	}
	t.Cleanup(e.sched.Stop)

	svc := social.NewService(e.accounts, store.NewFriendships(db), logger)
	authn := mw.NewAuthenticator(e.tokens, e.accounts, e.sessions, nil, logger)
	authH := rest.NewAuthHandler(e.accounts, e.tokens, e.sessions, sec, e.audit, logger)
	socialH := rest.NewSocialHandler(svc, e.audit, logger)
	adminH := rest.NewAdminHandler(e.accounts, e.sessions, e.sched, e.audit, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)
	r.POST("/api/auth/refresh", authH.Refresh)
	r.POST("/api/auth/logout", authn.Middleware(), authH.Logout)
	r.GET("/api/auth/me", authn.Middleware(), authH.Me)

	sg := r.Group("/api/social", authn.Middleware())
	sg.GET("/friends", socialH.ListFriends)
	sg.POST("/friends/request", socialH.SendFriendRequest)
	sg.POST("/friends/:id/respond", socialH.Respond)
	sg.DELETE("/friends/:id", socialH.DeleteFriend)

	ag := r.Group("/api/admin", mw.AdminKey(adminKey))
	ag.GET("/accounts/:id", adminH.GetAccount)
	ag.POST("/accounts/:id/ban", adminH.BanAccount)
	ag.GET("/scheduler", adminH.ListSchedulerTasks)

	e.router = r
	return e
}

func (e *env) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func bearer(tok string) []string { return []string{"Authorization", "Bearer " + tok} }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// signup registers and logs in name, returning the access token, the refresh
// token and the account id.
func (e *env) signup(t *testing.T, name string) (string, string, int64) {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"username": name, "email": name + "@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/auth/login", map[string]string{"username": name, "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	return body["token"].(string), body["refresh_token"].(string), int64(body["account_id"].(float64))
}
