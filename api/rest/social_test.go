package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/kasuganosora/moviemaster/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func friendshipID(t *testing.T, body map[string]interface{}) int64 {
	t.Helper()
	f, ok := body["friendship"].(map[string]interface{})
	require.True(t, ok, "response carries a friendship: %v", body)
	return int64(f["id"].(float64))
}

func TestSocial_RequestAcceptList(t *testing.T) {
	e := newEnv(t)
	tokA, _, idA := e.signup(t, "alice")
	tokB, _, idB := e.signup(t, "bob")

	w := e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": idB}, bearer(tokA)...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	relID := friendshipID(t, body)
	assert.Equal(t, "PENDING", body["friendship"].(map[string]interface{})["status"])

	w = e.do(http.MethodGet, "/api/social/friends?status=pending", nil, bearer(tokB)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["friendships"], 1)

	path := fmt.Sprintf("/api/social/friends/%d/respond", relID)
	w = e.do(http.MethodPost, path, map[string]string{"status": "ACCEPTED"}, bearer(tokA)...)
	assert.Equal(t, http.StatusForbidden, w.Code, "requester cannot answer")

	w = e.do(http.MethodPost, path, map[string]string{"status": "accepted"}, bearer(tokB)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ACCEPTED", decode(t, w)["friendship"].(map[string]interface{})["status"])

	for _, tok := range []string{tokA, tokB} {
		w = e.do(http.MethodGet, "/api/social/friends", nil, bearer(tok)...)
		require.Equal(t, http.StatusOK, w.Code)
		list := decode(t, w)["friendships"].([]interface{})
		require.Len(t, list, 1)
		f := list[0].(map[string]interface{})
		assert.Equal(t, float64(idA), f["requester_id"])
		assert.Equal(t, float64(idB), f["target_id"])
	}

	var actions []string
	for _, a := range e.audit.actions() {
		if a == audit.ActionFriendRequest || a == audit.ActionFriendRespond {
			actions = append(actions, a)
		}
	}
	assert.Equal(t, []string{audit.ActionFriendRequest, audit.ActionFriendRespond, audit.ActionFriendRespond}, actions)
}

func TestSocial_ErrorStatuses(t *testing.T) {
	e := newEnv(t)
	tokA, _, idA := e.signup(t, "alice")
	tokB, _, idB := e.signup(t, "bob")

	w := e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": idA}, bearer(tokA)...)
	assert.Equal(t, http.StatusBadRequest, w.Code, "self")

	w = e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": 9999}, bearer(tokA)...)
	assert.Equal(t, http.StatusNotFound, w.Code, "unknown target")

	w = e.do(http.MethodPost, "/api/social/friends/request", map[string]string{}, bearer(tokA)...)
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing target")

	w = e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": idB}, bearer(tokA)...)
	require.Equal(t, http.StatusCreated, w.Code)
	relID := friendshipID(t, decode(t, w))

	w = e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": idA}, bearer(tokB)...)
	assert.Equal(t, http.StatusConflict, w.Code, "reverse duplicate")

	path := fmt.Sprintf("/api/social/friends/%d/respond", relID)
	w = e.do(http.MethodPost, path, map[string]string{"status": "PENDING"}, bearer(tokB)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, path, map[string]string{"status": "REJECTED"}, bearer(tokB)...).Code)
	w = e.do(http.MethodPost, path, map[string]string{"status": "ACCEPTED"}, bearer(tokB)...)
	assert.Equal(t, http.StatusConflict, w.Code, "answer already given")

	w = e.do(http.MethodPost, "/api/social/friends/424242/respond", map[string]string{"status": "ACCEPTED"}, bearer(tokB)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodPost, "/api/social/friends/abc/respond", map[string]string{"status": "ACCEPTED"}, bearer(tokB)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/social/friends?status=BLOCKED", nil, bearer(tokA)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/api/social/friends", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSocial_RemoveFromEitherSide(t *testing.T) {
	e := newEnv(t)
	tokA, _, idA := e.signup(t, "alice")
	tokB, _, idB := e.signup(t, "bob")

	require.Equal(t, http.StatusCreated,
		e.do(http.MethodPost, "/api/social/friends/request", map[string]int64{"target_id": idB}, bearer(tokA)...).Code)

	w := e.do(http.MethodDelete, fmt.Sprintf("/api/social/friends/%d", idA), nil, bearer(tokB)...)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodDelete, fmt.Sprintf("/api/social/friends/%d", idB), nil, bearer(tokA)...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodDelete, "/api/social/friends/x", nil, bearer(tokA)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
