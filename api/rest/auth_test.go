package rest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/kasuganosora/moviemaster/audit"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Validation(t *testing.T) {
	e := newEnv(t)
	cases := []map[string]string{
		{"username": "a", "email": "a@example.com", "password": "password123"},
		{"username": "alice", "email": "not-an-email", "password": "password123"},
		{"username": "alice", "email": "alice@example.com", "password": "short"},
		{"username": "bad name", "email": "alice@example.com", "password": "password123"},
	}
	for _, body := range cases {
		w := e.do(http.MethodPost, "/api/auth/register", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	e := newEnv(t)
	body := map[string]string{"username": "alice", "email": "alice@example.com", "password": "password123"}
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/auth/register", body).Code)

	w := e.do(http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	body["username"] = "alice2"
	w = e.do(http.MethodPost, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, w.Code, "email is unique too")
}

func TestLogin_IssuesPair(t *testing.T) {
	e := newEnv(t)
	access, refresh, id := e.signup(t, "alice")

	claims, err := e.tokens.Verify(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject())
	assert.Equal(t, id, claims.AccountID())
	assert.Equal(t, token.KindAccess, claims.Kind())
	assert.Equal(t, []string{model.RoleUser}, claims.Roles())

	rc, err := e.tokens.Verify(context.Background(), refresh)
	require.NoError(t, err)
	assert.Equal(t, token.KindRefresh, rc.Kind())
	assert.True(t, rc.ExpiresAt().After(claims.ExpiresAt()))

	acc, err := e.accounts.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, acc.LastLoginAt)

	assert.Equal(t, []string{audit.ActionRegister, audit.ActionLogin}, e.audit.actions())
}

func TestLogin_WrongPasswordAndUnknownUser(t *testing.T) {
	e := newEnv(t)
	e.signup(t, "bob")

	w := e.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "bob", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "nobody", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	last := e.audit.entries[len(e.audit.entries)-1]
	assert.Equal(t, audit.ActionLoginFailed, last.Action)
	assert.Equal(t, "nobody", last.Username)
}

func TestLogin_Banned(t *testing.T) {
	e := newEnv(t)
	_, _, id := e.signup(t, "carol")
	require.NoError(t, e.accounts.SetStatus(context.Background(), id, model.AccountStatusBanned))

	w := e.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "carol", "password": "password123"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	access, _, id := e.signup(t, "dave")

	w := e.do(http.MethodGet, "/api/auth/me", nil, bearer(access)...)
	require.Equal(t, http.StatusOK, w.Code)
	acc := decode(t, w)["account"].(map[string]interface{})
	assert.Equal(t, float64(id), acc["id"])
	assert.Equal(t, "dave", acc["username"])
	assert.NotContains(t, acc, "password_hash")
}

func TestRefresh_RotatesAndIsSingleUse(t *testing.T) {
	e := newEnv(t)
	access, refresh, _ := e.signup(t, "erin")

	w := e.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	newAccess := body["token"].(string)
	assert.NotEqual(t, access, newAccess)
	assert.NotEqual(t, refresh, body["refresh_token"])

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/auth/me", nil, bearer(newAccess)...).Code)

	w = e.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "replayed refresh token")
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	e := newEnv(t)
	access, _, _ := e.signup(t, "frank")
	w := e.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid token", decode(t, w)["error"])
}

func TestRefreshToken_NotAcceptedAsBearer(t *testing.T) {
	e := newEnv(t)
	_, refresh, _ := e.signup(t, "gina")
	w := e.do(http.MethodGet, "/api/auth/me", nil, bearer(refresh)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesSession(t *testing.T) {
	e := newEnv(t)
	access, refresh, _ := e.signup(t, "hank")

	w := e.do(http.MethodPost, "/api/auth/logout", map[string]string{"refresh_token": refresh}, bearer(access)...)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/auth/me", nil, bearer(access)...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session expired", decode(t, w)["error"])

	w = e.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
