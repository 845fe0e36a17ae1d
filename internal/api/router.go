package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/service"
	"github.com/propnest/propnest-backend/pkg/config"
	"github.com/propnest/propnest-backend/pkg/middleware"
)

// NewRouter builds the public router.
func NewRouter(cfg *config.Config, services *service.Services, store Pinger, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Sentry.Enabled {
		router.Use(middleware.Telemetry())
	}
	router.Use(middleware.Logger(logger))

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handlers := NewHandlers(services, store, cfg, logger)
	limiter := middleware.NewAuthRateLimiter(cfg.Security.AuthRateLimit, logger)

	router.GET("/status", handlers.Status)
	router.GET("/health", handlers.Health)

	auth := router.Group("/auth")
	{
		verification := auth.Group("")
		verification.Use(middleware.AuthRateLimitMiddleware(limiter))
		{
			verification.POST("/otp/request", handlers.RequestOTP)
			verification.POST("/otp/verify", handlers.VerifyOTP)
			verification.POST("/password/reset", handlers.ResetPassword)
		}

		auth.POST("/register", handlers.Register)
		auth.POST("/login", handlers.Login)
	}

	account := router.Group("/account")
	account.Use(middleware.AuthMiddleware(services.Tokens, logger))
	{
		account.GET("/me", handlers.GetAccount)
	}

	return router
}

// NewAdminRouter builds the admin router for internal management APIs
func NewAdminRouter(services *service.Services, store Pinger, adminToken string, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	adminHandlers := NewAdminHandlers(services, store, logger)

	// Unauthenticated for health checks
	router.GET("/admin/status", adminHandlers.AdminStatus)

	admin := router.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(adminToken, logger))
	{
		challenges := admin.Group("/challenges")
		{
			challenges.GET("/:purpose/:email", adminHandlers.GetChallenge)
			challenges.POST("/reissue", adminHandlers.ReissueChallenge)
		}
	}

	return router
}
