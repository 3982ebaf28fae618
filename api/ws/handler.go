package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/moviemaster/cache"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/social"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	auth     *mw.Authenticator
	pubsub   cache.PubSub
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket Handler. allowedOrigins limits which
// browser origins may connect; an empty slice permits all (development only).
func NewHandler(auth *mw.Authenticator, pubsub cache.PubSub, router *Router, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{
		auth:   auth,
		pubsub: pubsub,
		router: router,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. Browsers cannot set headers on the
// upgrade request, so the token is read from the query first.
func (h *Handler) ServeWS(c *gin.Context) {
	tok := c.Query("token")
	if tok == "" {
		tok = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	acc, err := h.auth.Authenticate(c.Request.Context(), tok)
	if err != nil {
		status, msg := mw.AuthErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewSession(acc.ID, conn, h.logger)
	defer s.Close()

	msgCh, unsub, err := h.pubsub.Subscribe(ctx, social.Channel(acc.ID), social.AnnounceChannel)
	if err != nil {
		h.logger.Error("ws subscribe failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		return
	}
	defer unsub()
	go h.forward(s, msgCh)

	h.logger.Info("ws connected", zap.Int64("account_id", acc.ID))
	s.Send(0, TypeConnected, map[string]int64{"account_id": acc.ID})
	h.readPump(ctx, s)
	h.logger.Info("ws disconnected", zap.Int64("account_id", acc.ID))
}

// forward relays pub/sub messages to the client until the session closes.
func (h *Handler) forward(s *Session, msgCh <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			typ := TypeFriendship
			if msg.Channel == social.AnnounceChannel {
				typ = TypeAnnounce
			}
			s.Send(0, typ, rawJSON(msg.Payload))
		case <-s.Done:
			return
		}
	}
}

// readPump reads until the connection fails or closes.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})
	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.Int64("account_id", s.AccountID), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

// rawJSON passes an already encoded payload through json.Marshal untouched.
type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }
