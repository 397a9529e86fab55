package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/driftnote/driftnote/backend/go-identity/handlers"
	"github.com/driftnote/driftnote/backend/go-identity/internal/avatars"
	"github.com/driftnote/driftnote/backend/go-identity/internal/config"
	"github.com/driftnote/driftnote/backend/go-identity/internal/database"
	"github.com/driftnote/driftnote/backend/go-identity/internal/identity"
	"github.com/driftnote/driftnote/backend/go-identity/internal/names"
	"github.com/driftnote/driftnote/backend/go-identity/internal/oidc"
	"github.com/driftnote/driftnote/backend/go-identity/internal/sessions"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/logger"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/metrics"
	"github.com/driftnote/driftnote/backend/go-identity/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
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
	logger.Infof("config loaded: provider=%v mongo=%v redis=%v", cfg.Provider.Issuer != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple — production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Cookie")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	// shared runtime vars used by handlers/readiness
	var verifier middleware.Verifier
	var idSvc *identity.Service
	var sessionsSvc *sessions.Service

	// Global middlewares: logging + recovery
	r.Use(gin.Logger(), gin.Recovery())

	// Connect to Redis early so the rate-limiter and session store can use it
	var importedRedis *redis.Client
	if cfg.Redis.Host != "" {
		importedRedis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

		if err := importedRedis.Ping(context.Background()).Err(); err == nil {
			// expose Redis client for blacklist checks (session wiring happens later)
			sessions.SetBlacklistClient(importedRedis)
			logger.Infof("Connected to Redis (early) for optional features: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		} else {
			logger.Warnf("failed to connect to Redis early (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			importedRedis = nil
		}
	}

	// Optional global rate limiter (per-identity when resolvable, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && importedRedis != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(importedRedis, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint — return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		// storage readiness: the identity store is the hard requirement, the
		// session store decides whether linking can produce sessions
		if idSvc == nil {
			deps["identity"] = false
			ready = false
		} else {
			deps["identity"] = true
			deps["sessions"] = (sessionsSvc != nil)
		}

		// provider readiness: if an issuer was configured we expect a verifier
		// (or ALLOW_INSECURE_TOKEN in integration runs)
		if cfg.Provider.Issuer != "" {
			if verifier == nil {
				deps["oidc"] = false
				ready = false
			} else {
				deps["oidc"] = true
			}
		} else {
			// not configured -> consider OK
			deps["oidc"] = true
		}

		// Redis readiness when used for rate-limiter or sessions
		if cfg.Redis.Host != "" && cfg.RateLimit.UseRedis {
			deps["redis"] = importedRedis != nil
			if !deps["redis"] {
				ready = false
			}
		} else {
			deps["redis"] = true
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": fmt.Sprintf("%s", time.Since(startTime))})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": fmt.Sprintf("%s", time.Since(startTime))})
	})

	// Provider OIDC verifier for id_token verification on /identity/link
	ctx := context.Background()
	if cfg.Provider.Issuer != "" && cfg.Provider.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, strings.TrimRight(cfg.Provider.Issuer, "/"), cfg.Provider.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}

	// Optional insecure verifier for integration tests: parse token claims without signature verification
	if verifier == nil {
		val := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")))
		if val == "true" {
			logger.Warn("enabling insecure OIDC verifier (integration mode)")
			verifier = oidc.NewInsecureVerifier()
		}
	}

	// Prefer Redis-based sessions when configured (fast, in-memory)
	if importedRedis != nil {
		srepo := sessions.NewRedisRepository(importedRedis, "identity_session:")
		sessionsSvc = sessions.NewService(srepo)
		logger.Infof("Using Redis for session storage (early connection)")
	}

	// MongoDB-backed identity store (plus sessions when Redis is absent).
	// Retry/backoff on connect to tolerate startup races.
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
			usersCol := client.Database(cfg.MongoDB.Database).Collection("users")
			store, err := identity.NewMongoStore(ctx, usersCol)
			if err != nil {
				logger.Warnf("failed to prepare identity store indexes: %v", err)
			} else {
				idSvc = identity.NewService(store, names.New())
			}

			// only create Mongo-backed session repo when a session service isn't already set
			if sessionsSvc == nil {
				sessionsCol := client.Database(cfg.MongoDB.Database).Collection("sessions")
				srepo := sessions.NewMongoRepository(sessionsCol)
				sessionsSvc = sessions.NewService(srepo)
			}
		}
	}

	// In-memory identity store keeps local development working without Mongo.
	// Records do not survive a restart.
	if idSvc == nil {
		logger.Warnf("MongoDB unavailable, falling back to in-memory identity store")
		idSvc = identity.NewService(identity.NewMemoryStore(), names.New())
	}

	// Optional avatar mirror backed by MinIO
	var avatarMirror handlers.AvatarMirror
	if os.Getenv("MINIO_ENDPOINT") != "" {
		if st, err := avatars.NewStore(avatars.LoadConfig()); err != nil {
			logger.Warnf("avatar store unavailable: %v", err)
		} else {
			avatarMirror = st
			logger.Infof("avatar mirroring enabled")
		}
	}

	// Register identity handlers
	if sessionsSvc != nil && verifier != nil {
		h := handlers.NewIdentityHandler(cfg, idSvc, sessionsSvc, verifier, avatarMirror)
		h.Register(r.Group("/"))
	} else {
		logger.Warnf("identity handlers not registered because sessions/verifier are unavailable")
	}
	// Register minimal Swagger UI + JSON for API documentation
	handlers.RegisterSwagger(r)

	// Authenticated claims probe for downstream services holding an access token
	api := r.Group("/api/v1")
	if verifier != nil {
		api.GET("/claims", middleware.AuthMiddleware(verifier), func(c *gin.Context) {
			claims, _ := c.Get("claims")
			c.JSON(http.StatusOK, gin.H{"claims": claims})
		})
	} else {
		api.GET("/claims", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "OIDC not configured"})
		})
	}

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Config summary: provider=%v mongo=%v redis=%v token_secret_set=%v", cfg.Provider.Issuer != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.Token.Secret != "")
	logger.Debugf("services: identity=%v sessions=%v verifier=%v", idSvc != nil, sessionsSvc != nil, verifier != nil)
	logger.Infof("Starting identity service on %s", addr)
	// run server in goroutine and keep process alive — prevents the container
	// from exiting silently if r.Run ever returns.
	go func() {
		if err := r.Run(addr); err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	}()
	select {}
}
