package sse_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/api/sse"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/testutil"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sseEnv struct {
	server  *httptest.Server
	handler *sse.Handler
	svc     *social.Service
	alice   *model.Account
	bob     *model.Account
	token   string
}

func newSSEEnv(t *testing.T) *sseEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	ctx := context.Background()

	accounts := store.NewAccounts(db)
	sessions := session.NewStore(c)
	tokens := token.New(token.StaticSecret("sse-handler-test-secret-32-bytes"), time.Hour)

	e := &sseEnv{}
	var err error
	e.alice, err = accounts.Save(ctx, &model.Account{Username: "alice", Email: "a@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	e.bob, err = accounts.Save(ctx, &model.Account{Username: "bob", Email: "b@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	e.token, err = tokens.Issue(ctx, token.SessionClaims(e.bob.ID, nil, token.KindAccess), "bob")
	require.NoError(t, err)
	require.NoError(t, sessions.Add(ctx, e.bob.ID, e.token, time.Hour))

	e.svc = social.NewService(accounts, store.NewFriendships(db), logger,
		social.WithNotifier(social.NewPubSubNotifier(ps)))
	auth := mw.NewAuthenticator(tokens, accounts, sessions, nil, logger)
	e.handler = sse.NewHandler(ps, auth, 20*time.Millisecond, logger)

	r := gin.New()
	r.GET("/sse", e.handler.ServeSSE)
	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)
	return e
}

// readEvent returns the next "event:" name and its data line, skipping comments.
func readEvent(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestServeSSE_Unauthorized(t *testing.T) {
	e := newSSEEnv(t)
	for _, q := range []string{"", "?token=bogus"} {
		resp, err := http.Get(e.server.URL + "/sse" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, q)
	}
}

func TestServeSSE_StreamsFriendshipEvents(t *testing.T) {
	e := newSSEEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.server.URL+"/sse?token="+e.token, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	event, _ := readEvent(t, rd)
	require.Equal(t, "connected", event)

	_, err = e.svc.Propose(context.Background(), e.alice.ID, e.bob.ID)
	require.NoError(t, err)
	event, data := readEvent(t, rd)
	assert.Equal(t, "friendship", event)
	assert.Contains(t, data, `"op":"propose"`)

	require.NoError(t, e.handler.Announce(context.Background(), `{"message":"maintenance"}`))
	event, data = readEvent(t, rd)
	assert.Equal(t, "announce", event)
	assert.Contains(t, data, "maintenance")
}
