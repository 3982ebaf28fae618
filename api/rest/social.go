package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/audit"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/social"
	"go.uber.org/zap"
)

// SocialHandler exposes the friendship state machine over HTTP. The acting
// identity always comes from the authenticated session.
type SocialHandler struct {
	svc    *social.Service
	audit  Auditor
	logger *zap.Logger
}

// NewSocialHandler creates a SocialHandler. auditor may be nil.
func NewSocialHandler(svc *social.Service, auditor Auditor, logger *zap.Logger) *SocialHandler {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &SocialHandler{svc: svc, audit: auditor, logger: logger}
}

// ListFriends handles GET /api/social/friends?status=ACCEPTED.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	status := model.FriendshipStatus(strings.ToUpper(c.DefaultQuery("status", string(model.FriendshipAccepted))))
	list, err := h.svc.ListByStatus(c.Request.Context(), mw.GetAccountID(c), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendships": list, "status": status})
}

// SendFriendRequest handles POST /api/social/friends/request.
func (h *SocialHandler) SendFriendRequest(c *gin.Context) {
	start := time.Now()
	var req struct {
		TargetID int64 `json:"target_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc := mw.GetAccount(c)
	rel, err := h.svc.Propose(c.Request.Context(), acc.ID, req.TargetID)
	h.record(c, acc, req.TargetID, audit.ActionFriendRequest, req, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"friendship": rel})
}

// Respond handles POST /api/social/friends/:id/respond where :id is the
// friendship id.
func (h *SocialHandler) Respond(c *gin.Context) {
	start := time.Now()
	relID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	acc := mw.GetAccount(c)
	rel, err := h.svc.Get(ctx, relID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	updated, err := h.svc.Respond(ctx, acc.ID, rel, model.FriendshipStatus(strings.ToUpper(req.Status)))
	h.record(c, acc, rel.Other(acc.ID), audit.ActionFriendRespond, req, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendship": updated})
}

// DeleteFriend handles DELETE /api/social/friends/:id where :id is the other
// account's id. Works for any state and from either side.
func (h *SocialHandler) DeleteFriend(c *gin.Context) {
	start := time.Now()
	otherID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	acc := mw.GetAccount(c)
	err = h.svc.Remove(c.Request.Context(), acc.ID, otherID)
	h.record(c, acc, otherID, audit.ActionFriendRemove, nil, err, start)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *SocialHandler) record(c *gin.Context, acc *model.Account, targetID int64, action string, req interface{}, err error, start time.Time) {
	h.audit.Log(audit.Entry{
		TraceID:   mw.GetTraceID(c),
		AccountID: acc.ID,
		Username:  acc.Username,
		TargetID:  targetID,
		Action:    action,
		Request:   req,
		Err:       err,
		IP:        c.ClientIP(),
		Duration:  time.Since(start),
	})
}
