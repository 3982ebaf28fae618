package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/cache"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/social"
	"go.uber.org/zap"
)

// Handler streams relationship events and announcements to a signed-in user.
type Handler struct {
	pubsub    cache.PubSub
	auth      *mw.Authenticator
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a Handler. A non-positive keepalive defaults to 30s.
func NewHandler(pubsub cache.PubSub, auth *mw.Authenticator, keepalive time.Duration, logger *zap.Logger) *Handler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &Handler{pubsub: pubsub, auth: auth, keepalive: keepalive, logger: logger}
}

// ServeSSE handles GET /sse?token=<jwt>. EventSource cannot set headers, so
// the access token may come from the query string; a bearer header also works.
func (h *Handler) ServeSSE(c *gin.Context) {
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

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, social.Channel(acc.ID), social.AnnounceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"account_id\":%d}\n\n", acc.ID)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			event := "friendship"
			if msg.Channel == social.AnnounceChannel {
				event = "announce"
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Announce publishes message to every connected client.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, social.AnnounceChannel, message)
}

// PostAnnounce handles POST /api/admin/announce {"message": "..."}.
func (h *Handler) PostAnnounce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=1024"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, _ := json.Marshal(gin.H{"message": req.Message})
	if err := h.Announce(c.Request.Context(), string(payload)); err != nil {
		h.logger.Error("announce failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
