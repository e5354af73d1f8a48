package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/overlab/overlab/handlers"
	"github.com/overlab/overlab/internal/config"
	"github.com/overlab/overlab/internal/database"
	"github.com/overlab/overlab/internal/lifecycle"
	"github.com/overlab/overlab/internal/oidc"
	"github.com/overlab/overlab/internal/provision"
	"github.com/overlab/overlab/internal/registry"
	"github.com/overlab/overlab/internal/sessions"
	"github.com/overlab/overlab/internal/tokens"
	"github.com/overlab/overlab/internal/zotero"
	"github.com/overlab/overlab/pkg/logger"
	"github.com/overlab/overlab/pkg/metrics"
	"github.com/overlab/overlab/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v zotero=%s", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Zotero.BaseURL)

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple — production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// Global middlewares: logging + recovery
	r.Use(gin.Logger(), gin.Recovery())

	// Connect to Redis early so sessions, blacklist and the rate limiter can use it
	var importedRedis *redis.Client
	if cfg.Redis.Host != "" {
		importedRedis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password})
		if err := importedRedis.Ping(context.Background()).Err(); err == nil {
			sessions.SetBlacklistClient(importedRedis)
			logger.Infof("Connected to Redis (early) for optional features: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		} else {
			logger.Warnf("failed to connect to Redis early (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			importedRedis = nil
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && importedRedis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(importedRedis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// shared runtime vars used by handlers/readiness
	var sessionsSvc *sessions.Service
	var bindingRepo registry.Repository

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint — return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["registry"] = bindingRepo != nil
		if bindingRepo == nil {
			ready = false
		}
		deps["sessions"] = sessionsSvc != nil
		if sessionsSvc == nil {
			ready = false
		}
		if cfg.Redis.Host != "" {
			deps["redis"] = importedRedis != nil
			if !deps["redis"] {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	ctx := context.Background()

	// Prefer Redis-based sessions when configured (fast, in-memory)
	if importedRedis != nil {
		sessionsSvc = sessions.NewService(sessions.NewRedisRepository(importedRedis, "admin:session:"))
		logger.Infof("Using Redis for admin session storage")
	}

	// MongoDB-backed binding registry (+ sessions fallback).
	// Retry/backoff when connecting to tolerate startup races with the database container.
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var client *mongo.Client
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			client, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
		} else {
			defer func() { _ = client.Disconnect(ctx) }()
			col := client.Database(cfg.MongoDB.Database).Collection("proxy_bindings")
			bindingRepo = registry.NewMongoRepository(col)
			if sessionsSvc == nil {
				sessionsCol := client.Database(cfg.MongoDB.Database).Collection("sessions")
				sessionsSvc = sessions.NewService(sessions.NewMongoRepository(sessionsCol))
			}
		}
	}
	if bindingRepo == nil {
		// last-resort fallback for local development; bindings do not survive restarts
		logger.Warnf("no MongoDB registry available — using in-memory binding registry")
		bindingRepo = registry.NewMemoryRepository()
	}

	// Lifecycle wiring: credential validator, compose substrate, manager, reconciler
	validator := zotero.NewClient(cfg.Zotero.BaseURL, cfg.Zotero.Timeout)
	provisioner := provision.NewComposeProvisioner(provision.ComposeOptions{
		Dir:     cfg.Provision.ComposeDir,
		Image:   cfg.Provision.Image,
		Network: cfg.Provision.Network,
		Port:    cfg.Provision.ProxyPort,
	})
	manager := lifecycle.NewManager(bindingRepo, provisioner, validator, lifecycle.Options{
		ProvisionTimeout: cfg.Provision.ProvisionTimeout,
		TeardownTimeout:  cfg.Provision.TeardownTimeout,
	})

	reconciler := lifecycle.NewReconciler(manager, cfg.Provision.ReconcileSchedule)
	if err := reconciler.Start(); err != nil {
		logger.Fatalf("failed to start reconciler: %v", err)
	}
	defer reconciler.Stop()

	// Admin token verifier: OIDC when configured, locally signed JWTs otherwise
	var verifier middleware.Verifier
	if cfg.OIDC.IssuerURL != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
			logger.Infof("admin API verifies tokens against %s", cfg.OIDC.IssuerURL)
		}
	}
	if verifier == nil {
		if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
			logger.Warn("enabling insecure token verifier (integration mode)")
			verifier = oidc.NewInsecureVerifier()
		} else {
			verifier = tokens.NewSecretVerifier(cfg.JWT.Secret)
		}
	}

	// Register handlers
	if sessionsSvc != nil {
		handlers.NewAuthHandler(cfg, sessionsSvc).Register(r.Group("/"))
	} else {
		logger.Warnf("auth handlers not registered because no session store is available")
	}
	handlers.RegisterSwagger(r)

	bindingsHandler := handlers.NewBindingsHandler(cfg, manager)
	api := r.Group("/api", middleware.AuthMiddleware(verifier))
	bindingsHandler.Register(api)
	bindingsHandler.RegisterSignup(r.Group("/"))

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Config summary: mongo=%v redis=%v signup=%v jwt_secret_set=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Signup.EnablePublic, cfg.JWT.Secret != "")
	logger.Infof("Starting proxy manager on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
