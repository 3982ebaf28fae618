package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/moviemaster/api"
	apirest "github.com/kasuganosora/moviemaster/api/rest"
	"github.com/kasuganosora/moviemaster/api/sse"
	"github.com/kasuganosora/moviemaster/api/ws"
	"github.com/kasuganosora/moviemaster/audit"
	"github.com/kasuganosora/moviemaster/cache"
	"github.com/kasuganosora/moviemaster/config"
	dbadapter "github.com/kasuganosora/moviemaster/db"
	"github.com/kasuganosora/moviemaster/metrics"
	mw "github.com/kasuganosora/moviemaster/middleware"
	"github.com/kasuganosora/moviemaster/model"
	"github.com/kasuganosora/moviemaster/plugin/hook"
	"github.com/kasuganosora/moviemaster/scheduler"
	"github.com/kasuganosora/moviemaster/session"
	"github.com/kasuganosora/moviemaster/social"
	"github.com/kasuganosora/moviemaster/store"
	"github.com/kasuganosora/moviemaster/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, audit.Config{}, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		KeyPrefix:       cfg.Cache.KeyPrefix,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// ---- Core services ----
	accounts := store.NewAccounts(db)
	friendships := store.NewFriendships(db)
	sessions := session.NewStore(c)
	tokens := token.New(token.StaticSecret(cfg.Security.JWTSecret), cfg.Security.TokenTTL)
	hooks := hook.NewHookCenter()
	socialSvc := social.NewService(accounts, friendships, logger,
		social.WithHooks(hooks),
		social.WithNotifier(social.NewPubSubNotifier(pubsub)),
		social.WithRecorder(collector))
	authn := mw.NewAuthenticator(tokens, accounts, sessions, collector, logger)

	// ---- Scheduler ----
	sched := scheduler.New(ctx, logger)
	defer sched.Stop()
	if cfg.Social.PendingTTL > 0 {
		if err := sched.AddTicker("friend_request_expiry", cfg.Social.SweepInterval, true,
			socialSvc.ExpiryTask(cfg.Social.PendingTTL)); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}

	// ---- WebSocket ----
	wsRouter := ws.NewRouter(logger)
	ws.RegisterSocialHandlers(wsRouter, socialSvc)

	// ---- HTTP ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(ctx, cfg, api.Deps{
		Auth:     apirest.NewAuthHandler(accounts, tokens, sessions, cfg.Security, auditSvc, logger),
		Social:   apirest.NewSocialHandler(socialSvc, auditSvc, logger),
		Admin:    apirest.NewAdminHandler(accounts, sessions, sched, auditSvc, logger),
		SSE:      sse.NewHandler(pubsub, authn, 30*time.Second, logger),
		WS:       ws.NewHandler(authn, pubsub, wsRouter, cfg.Server.AllowedOrigins, logger),
		Authn:    authn,
		Metrics:  collector,
		Gatherer: reg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
