package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/metrics"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/token"
	"go.uber.org/zap"
)

const (
	AccountKey   = "account"
	AccountIDKey = "account_id"
	TokenKey     = "token"
)

var (
	ErrMissingToken    = errors.New("missing token")
	ErrWrongTokenKind  = errors.New("wrong token kind")
	ErrSessionRevoked  = errors.New("session expired")
	ErrAccountDisabled = errors.New("account disabled")
)

// AccountFinder loads the identity named by a token subject.
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
}

// TokenRecorder counts token checks by result.
type TokenRecorder interface {
	TokenCheck(result string)
}

// Authenticator resolves bearer tokens to enabled accounts with a live session.
type Authenticator struct {
	tokens   *token.Authority
	accounts AccountFinder
	sessions *session.Store
	recorder TokenRecorder
	log      *zap.Logger
}

// NewAuthenticator creates an Authenticator. recorder may be nil.
func NewAuthenticator(tokens *token.Authority, accounts AccountFinder, sessions *session.Store, recorder TokenRecorder, log *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, accounts: accounts, sessions: sessions, recorder: recorder, log: log}
}

// Authenticate checks an access token end to end and returns its account.
func (a *Authenticator) Authenticate(ctx context.Context, tok string) (*model.Account, error) {
	if tok == "" {
		return nil, ErrMissingToken
	}
	claims, err := a.tokens.Verify(ctx, tok)
	if err != nil {
		a.record(err)
		return nil, err
	}
	if claims.Kind() != token.KindAccess {
		a.record(token.ErrInvalidToken)
		return nil, ErrWrongTokenKind
	}

	acc, err := a.accounts.FindByUsername(ctx, claims.Subject())
	if err != nil {
		a.record(token.ErrInvalidToken)
		return nil, fmt.Errorf("%w: unknown subject", token.ErrInvalidToken)
	}
	// verified claims must name the stored identity
	if claims.Subject() != acc.Username || claims.AccountID() != acc.ID {
		a.record(token.ErrInvalidToken)
		return nil, fmt.Errorf("%w: subject mismatch", token.ErrInvalidToken)
	}
	if !acc.Enabled() {
		return nil, ErrAccountDisabled
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	active, err := a.sessions.Active(cacheCtx, tok)
	if err != nil {
		a.log.Warn("session lookup failed", zap.Error(err))
	}
	if err != nil || !active {
		return nil, ErrSessionRevoked
	}
	a.record(nil)
	return acc, nil
}

// Middleware requires a valid "Authorization: Bearer" access token.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		tok := strings.TrimPrefix(header, "Bearer ")

		acc, err := a.Authenticate(c.Request.Context(), tok)
		if err != nil {
			status, msg := AuthErrorStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		SetAccount(c, acc, tok)
		c.Next()
	}
}

// AuthErrorStatus maps an Authenticate error to an HTTP status and message.
func AuthErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, ErrAccountDisabled):
		return http.StatusForbidden, "account banned"
	case errors.Is(err, ErrSessionRevoked), errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized, err.Error()
	}
	return http.StatusUnauthorized, "invalid token"
}

func (a *Authenticator) record(err error) {
	if a.recorder == nil {
		return
	}
	switch {
	case err == nil:
		a.recorder.TokenCheck(metrics.TokenValid)
	case errors.Is(err, token.ErrExpiredToken):
		a.recorder.TokenCheck(metrics.TokenExpired)
	default:
		a.recorder.TokenCheck(metrics.TokenInvalid)
	}
}

// SetAccount stores the authenticated account on the Gin context.
func SetAccount(c *gin.Context, acc *model.Account, tok string) {
	c.Set(AccountKey, acc)
	c.Set(AccountIDKey, acc.ID)
	c.Set(TokenKey, tok)
}

// GetAccount returns the authenticated account, or nil.
func GetAccount(c *gin.Context) *model.Account {
	if v, exists := c.Get(AccountKey); exists {
		return v.(*model.Account)
	}
	return nil
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken returns the bearer token the request authenticated with.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
