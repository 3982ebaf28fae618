package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/audit"
	"github.com/kasuganosora/moviemaster/config"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/token"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles registration, login and token lifecycle endpoints.
type AuthHandler struct {
	accounts *store.Accounts
	tokens   *token.Authority
	sessions *session.Store
	sec      config.SecurityConfig
	audit    Auditor
	logger   *zap.Logger
}

// NewAuthHandler creates an AuthHandler. auditor may be nil.
func NewAuthHandler(accounts *store.Accounts, tokens *token.Authority, sessions *session.Store,
	sec config.SecurityConfig, auditor Auditor, logger *zap.Logger) *AuthHandler {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if sec.BcryptCost == 0 {
		sec.BcryptCost = bcrypt.DefaultCost
	}
	if sec.RefreshTTL == 0 {
		sec.RefreshTTL = 7 * 24 * time.Hour
	}
	return &AuthHandler{accounts: accounts, tokens: tokens, sessions: sessions, sec: sec, audit: auditor, logger: logger}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32,alphanum"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=1,max=64"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type tokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    int64  `json:"account_id"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	start := time.Now()
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.sec.BcryptCost)
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("hash password: %w", err))
		return
	}
	acc, err := h.accounts.Save(c.Request.Context(), &model.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Roles:        []string{model.RoleUser},
		Status:       model.AccountStatusNormal,
	})
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.audit.Log(audit.Entry{
		TraceID:   mw.GetTraceID(c),
		AccountID: acc.ID,
		Username:  acc.Username,
		Action:    audit.ActionRegister,
		IP:        c.ClientIP(),
		Duration:  time.Since(start),
	})
	c.JSON(http.StatusCreated, gin.H{"account_id": acc.ID})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	acc, err := h.accounts.FindByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, h.logger, err)
		return
	}
	if acc == nil || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		h.audit.Log(audit.Entry{
			TraceID:  mw.GetTraceID(c),
			Username: req.Username,
			Action:   audit.ActionLoginFailed,
			IP:       c.ClientIP(),
			Err:      errors.New("invalid credentials"),
			Duration: time.Since(start),
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !acc.Enabled() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	pair, err := h.issuePair(ctx, acc)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.accounts.TouchLogin(ctx, acc.ID, c.ClientIP(), time.Now()); err != nil {
		h.logger.Warn("record last login", zap.Int64("account_id", acc.ID), zap.Error(err))
	}

	h.audit.Log(audit.Entry{
		TraceID:   mw.GetTraceID(c),
		AccountID: acc.ID,
		Username:  acc.Username,
		Action:    audit.ActionLogin,
		IP:        c.ClientIP(),
		Duration:  time.Since(start),
	})
	c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /api/auth/refresh. Each refresh token works once;
// the pair it was issued with is replaced.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	claims, err := h.tokens.Verify(ctx, req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if claims.Kind() != token.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	active, err := h.sessions.Active(ctx, req.RefreshToken)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !active {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	remaining := time.Until(claims.ExpiresAt())
	if remaining < time.Second {
		remaining = time.Second
	}
	fresh, err := h.sessions.Consume(ctx, req.RefreshToken, remaining)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !fresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token already used"})
		return
	}

	acc, err := h.accounts.FindByUsername(ctx, claims.Subject())
	if err != nil || acc.ID != claims.AccountID() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !acc.Enabled() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}
	if err := h.sessions.Revoke(ctx, acc.ID, req.RefreshToken); err != nil {
		h.logger.Warn("revoke refresh token", zap.Int64("account_id", acc.ID), zap.Error(err))
	}

	pair, err := h.issuePair(ctx, acc)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.audit.Log(audit.Entry{
		TraceID:   mw.GetTraceID(c),
		AccountID: acc.ID,
		Username:  acc.Username,
		Action:    audit.ActionRefresh,
		IP:        c.ClientIP(),
	})
	c.JSON(http.StatusOK, pair)
}

// Logout handles POST /api/auth/logout. The optional body
// {"refresh_token": "..."} revokes the paired refresh token as well.
func (h *AuthHandler) Logout(c *gin.Context) {
	acc := mw.GetAccount(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.sessions.Revoke(ctx, acc.ID, mw.GetToken(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req refreshRequest
	if c.ShouldBindJSON(&req) == nil {
		if err := h.sessions.Revoke(ctx, acc.ID, req.RefreshToken); err != nil {
			h.logger.Warn("revoke refresh token", zap.Int64("account_id", acc.ID), zap.Error(err))
		}
	}
	h.audit.Log(audit.Entry{
		TraceID:   mw.GetTraceID(c),
		AccountID: acc.ID,
		Username:  acc.Username,
		Action:    audit.ActionLogout,
		IP:        c.ClientIP(),
	})
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account": mw.GetAccount(c)})
}

func (h *AuthHandler) issuePair(ctx context.Context, acc *model.Account) (*tokenPair, error) {
	roles := []string(acc.Roles)
	access, err := h.tokens.Issue(ctx, token.SessionClaims(acc.ID, roles, token.KindAccess), acc.Username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := h.tokens.IssueWithTTL(ctx, token.SessionClaims(acc.ID, roles, token.KindRefresh), acc.Username, h.sec.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.sessions.Add(cacheCtx, acc.ID, access, h.tokens.TTL()); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if err := h.sessions.Add(cacheCtx, acc.ID, refresh, h.sec.RefreshTTL); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &tokenPair{
		Token:        access,
		RefreshToken: refresh,
		AccountID:    acc.ID,
		ExpiresIn:    int64(h.tokens.TTL().Seconds()),
	}, nil
}
