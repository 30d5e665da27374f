package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/authz"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/config"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/handler"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/keydir"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/middleware"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/ops"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/proxy"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/ratelimit"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/repository"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/secrets"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/usage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	log        zerolog.Logger
	httpServer *http.Server

	authorizer *authz.Authorizer
	recorder   *usage.Recorder
	retention  *usage.Janitor
	upstream   *proxy.Proxy
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, sec *secrets.Bundle, log zerolog.Logger) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	// Core engine: directory -> tier policy -> sharded limiter,
	// composed by the authorizer; the recorder closes the loop.
	keyRepo := repository.NewKeyRecordRepository(postgres)
	directory := keydir.New(keyRepo, keydir.NewRedisCache(redis), cfg.KeyCache.TTL(), m, log)

	counterStore := ratelimit.NewRedisCounterStore(redis)
	limiter := ratelimit.NewShardedLimiter(counterStore, cfg.Limiter.Shards, cfg.Limiter.Window(), cfg.Limiter.TTLSlack())

	eventRepo := repository.NewUsageEventRepository(postgres)
	recorder := usage.NewRecorder(eventRepo, limiter, usage.Config{
		BufferSize:    cfg.Recorder.BufferSize,
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval(),
		WriteTimeout:  cfg.Recorder.WriteTimeout(),
	}, m, log)

	authorizer := authz.New(directory, cfg.TierTable(), limiter, recorder, m, log)
	retention := usage.NewJanitor(eventRepo, cfg.Recorder.Retention(), time.Hour, log)

	opsAuth := ops.NewAuthService(cfg.Ops.Email, cfg.Ops.PasswordBcrypt, sec.OpsJWTSecret,
		time.Duration(cfg.Ops.JWTExpiryHours)*time.Hour)
	opsHandler := handler.NewOpsHandler(opsAuth, usage.NewAnalytics(eventRepo))

	upstream, err := proxy.New(proxy.Config{
		Targets:        cfg.Upstream.Targets,
		Strategy:       cfg.Upstream.Strategy,
		HealthPath:     cfg.Upstream.HealthPath,
		HealthInterval: cfg.Upstream.HealthInterval(),
	}, log)
	if err != nil {
		return nil, err
	}

	router := gin.New()

	s := &Server{
		router:     router,
		config:     cfg,
		redis:      redis,
		postgres:   postgres,
		log:        log,
		authorizer: authorizer,
		recorder:   recorder,
		retention:  retention,
		upstream:   upstream,
	}

	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS())

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	opsGroup := router.Group("/ops")
	{
		opsGroup.POST("/login", opsHandler.Login)
		opsGroup.GET("/usage", middleware.RequireOpsAuth(opsAuth), opsHandler.UsageSummary)
	}

	api := router.Group("/api")
	api.Use(middleware.Authorization(authorizer))
	api.Any("/*path", upstream.Handle)

	return s, nil
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := s.redis.Ping(c.Request.Context()) == nil
	dbHealthy := s.postgres.Ping(c.Request.Context()) == nil
	upstreamHealthy := s.upstream.Healthy()

	status := "healthy"
	statusCode := http.StatusOK
	if !redisHealthy || !dbHealthy || !upstreamHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "getcomplical-gateway",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
			"upstream": upstreamHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.log.Info().Str("addr", addr).Str("environment", s.config.Server.Environment).Msg("starting gateway")

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.upstream.Stop()
	s.authorizer.Close()
	s.recorder.Close()
	s.retention.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
