package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceapproval/internal/admin"
	"faceapproval/internal/approval"
	"faceapproval/internal/audit"
	"faceapproval/internal/config"
	"faceapproval/internal/faceclient"
	"faceapproval/internal/handler"
	"faceapproval/internal/httpmiddleware"
	"faceapproval/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Attempt the durable backend once; any failure is a sticky fallback
	// to in-memory storage for the process lifetime.
	st := store.Select(ctx, cfg.DatabaseURL)
	defer st.Close()

	auditLog := audit.New(st)
	auditLog.Recordf(ctx, "=== SYSTEM STARTED WITH %s STORAGE ===", st.Backend())

	passwordHash := []byte(cfg.AdminPasswordHash)
	if len(passwordHash) == 0 {
		hashed, err := admin.HashPassword(cfg.AdminPassword)
		if err != nil {
			return err
		}
		passwordHash = hashed
		log.Println("warning: ADMIN_PASSWORD_HASH not set, hashed ADMIN_PASSWORD at startup")
	}
	gate := admin.New(st, auditLog, cfg.AdminUsername, passwordHash)

	var matcher approval.Matcher = approval.NewPrefixMatcher(0)
	if cfg.FaceServiceURL != "" {
		matcher = approval.RemoteMatcher{
			Recognizer: faceclient.New(cfg.FaceServiceURL),
			Next:       matcher,
		}
		log.Println("face service configured:", cfg.FaceServiceURL)
	}
	svc := approval.NewService(st, auditLog, matcher, cfg.FallbackMatch)

	// Both backends expire temp captures through the same sweep.
	go store.SweepExpiredCaptures(ctx, st, cfg.CaptureTTL, cfg.SweepInterval)

	var redisClient *store.Redis
	var limiter httpmiddleware.Limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		if cfg.RateLimitBackend == "redis" {
			limiter = httpmiddleware.NewRedisLimiter(redisClient.Client, cfg.RateLimitPerMin)
			log.Println("rate limiting via redis:", cfg.RedisAddr)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.GinMiddleware(limiter))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handler.New(svc, gate, auditLog, st, redisClient)
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s (storage: %s)", cfg.HTTPPort, st.Backend())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	auditLog.Record(ctx, "=== SYSTEM SHUTDOWN ===")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
