// Package api mounts every HTTP route on a gin engine.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/moviemaster/api/rest"
	"github.com/kasuganosora/moviemaster/api/sse"
	"github.com/kasuganosora/moviemaster/api/ws"
	"github.com/kasuganosora/moviemaster/config"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps are the handlers and cross-cutting pieces the router needs.
type Deps struct {
	Auth     *apirest.AuthHandler
	Social   *apirest.SocialHandler
	Admin    *apirest.AdminHandler
	SSE      *sse.Handler
	WS       *ws.Handler
	Authn    *mw.Authenticator
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the engine. ctx bounds background work owned by the
// middleware chain.
func NewRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(d.Logger), mw.Recovery(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
	}
	limit := mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}
	r.GET("/sse", d.SSE.ServeSSE)
	if d.WS != nil {
		r.GET("/ws", d.WS.ServeWS)
	}

	authed := d.Authn.Middleware()
	api := r.Group("/api")
	{
		authG := api.Group("/auth", limit)
		authG.POST("/register", d.Auth.Register)
		authG.POST("/login", d.Auth.Login)
		authG.POST("/refresh", d.Auth.Refresh)
		authG.POST("/logout", authed, d.Auth.Logout)
		authG.GET("/me", authed, d.Auth.Me)

		socialG := api.Group("/social", authed, limit)
		socialG.GET("/friends", d.Social.ListFriends)
		socialG.POST("/friends/request", d.Social.SendFriendRequest)
		socialG.POST("/friends/:id/respond", d.Social.Respond)
		socialG.DELETE("/friends/:id", d.Social.DeleteFriend)

		adminG := api.Group("/admin", mw.IPWhitelist(cfg.Server.AdminIPs), mw.AdminKey(cfg.Server.AdminKey))
		adminG.GET("/accounts/:id", d.Admin.GetAccount)
		adminG.POST("/accounts/:id/ban", d.Admin.BanAccount)
		adminG.GET("/scheduler", d.Admin.ListSchedulerTasks)
		adminG.POST("/announce", d.SSE.PostAnnounce)
	}
	return r
}
