package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/audit"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/scheduler"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/store"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by middleware.AdminKey.
type AdminHandler struct {
	accounts *store.Accounts
	sessions *session.Store
	sched    *scheduler.Scheduler
	audit    Auditor
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditor may be nil.
func NewAdminHandler(accounts *store.Accounts, sessions *session.Store, sched *scheduler.Scheduler,
	auditor Auditor, logger *zap.Logger) *AdminHandler {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	return &AdminHandler{accounts: accounts, sessions: sessions, sched: sched, audit: auditor, logger: logger}
}

// GetAccount returns one account.
// GET /api/admin/accounts/:id
func (h *AdminHandler) GetAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	acc, err := h.accounts.FindByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc})
}

// BanAccount bans or unbans an account. A ban also revokes every live session.
// POST /api/admin/accounts/:id/ban {"ban": true}
func (h *AdminHandler) BanAccount(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	status, action := model.AccountStatusNormal, audit.ActionAccountUnban
	if req.Ban {
		status, action = model.AccountStatusBanned, audit.ActionAccountBan
	}
	if err := h.accounts.SetStatus(ctx, id, status); err != nil {
		respondError(c, h.logger, err)
		return
	}

	revoked := 0
	if req.Ban {
		if revoked, err = h.sessions.RevokeAll(ctx, id); err != nil {
			h.logger.Warn("revoke sessions on ban", zap.Int64("account_id", id), zap.Error(err))
		}
	}
	h.logger.Info("admin changed account status",
		zap.Int64("account_id", id), zap.Int("status", status), zap.Int("sessions_revoked", revoked))
	h.audit.Log(audit.Entry{
		TraceID:  mw.GetTraceID(c),
		TargetID: id,
		Action:   action,
		Request:  req,
		IP:       c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "sessions_revoked": revoked})
}

// ListSchedulerTasks returns every registered periodic task.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTasks()})
}
