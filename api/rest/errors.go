package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/audit"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/token"
	"go.uber.org/zap"
)

// Auditor receives audit entries. *audit.Service satisfies it.
type Auditor interface {
	Log(e audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Log(audit.Entry) {}

// errorStatus maps domain errors onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, social.ErrUnauthorizedAction),
		errors.Is(err, social.ErrIdentityDisabled),
		errors.Is(err, social.ErrVetoed):
		return http.StatusForbidden
	case errors.Is(err, social.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, social.ErrSelfRelationship), errors.Is(err, social.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, social.ErrAlreadyExists),
		errors.Is(err, social.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Unmapped errors are logged and hidden.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	msg := err.Error()
	if errors.Is(err, token.ErrExpiredToken) {
		msg = "token expired"
	} else if errors.Is(err, token.ErrInvalidToken) {
		msg = "invalid token"
	}
	c.JSON(status, gin.H{"error": msg})
}
