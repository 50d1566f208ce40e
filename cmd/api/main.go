package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/classcare/support-api/api/swagger"
	"github.com/classcare/support-api/internal/handler"
	"github.com/classcare/support-api/internal/middleware"
	"github.com/classcare/support-api/internal/models"
	"github.com/classcare/support-api/internal/repository"
	"github.com/classcare/support-api/internal/service"
	"github.com/classcare/support-api/pkg/cache"
	"github.com/classcare/support-api/pkg/config"
	"github.com/classcare/support-api/pkg/database"
	"github.com/classcare/support-api/pkg/logger"
	corsmiddleware "github.com/classcare/support-api/pkg/middleware/cors"
	reqidmiddleware "github.com/classcare/support-api/pkg/middleware/requestid"
	"github.com/classcare/support-api/pkg/storage"
)

// @title ClassCare Support API
// @version 1.0.0
// @description Student support request service with usage quotas and bulk teacher onboarding
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, quota caching disabled", "error", err)
		redisClient = nil
	}

	archiveStore, err := storage.NewArchiveStore(cfg.Import.ArchiveDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare archive dir", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Import.SignedURLSecret, cfg.Import.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	quotaSvc := service.NewQuotaService(userRepo, cacheRepo, metricsSvc, logr, cfg.Quota)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "classcare-support-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr, cfg.Quota.DefaultMonthlyLimit)
	importSvc := service.NewImportService(userRepo, archiveStore, signer, metricsSvc, logr, cfg.Import, cfg.Quota)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var suggestionSvc *service.SuggestionService
	var enqueuer interface{ Enqueue(string) error }
	if cfg.Suggestions.Enabled {
		completer := service.NewHTTPCompleter(cfg.Suggestions)
		suggestionSvc = service.NewSuggestionService(referralRepo, completer, logr, cfg.Suggestions)
		suggestionSvc.Start(ctx)
		defer suggestionSvc.Stop()
		enqueuer = suggestionSvc
	}
	referralSvc := service.NewReferralService(referralRepo, userRepo, quotaSvc, enqueuer, metricsSvc, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	quotaHandler := handler.NewQuotaHandler(quotaSvc)
	referralHandler := handler.NewReferralHandler(referralSvc)
	userHandler := handler.NewUserHandler(userSvc)
	importHandler := handler.NewImportHandler(importSvc, archiveStore, signer)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.Use(middleware.JWT(authSvc))
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/change-password", authHandler.ChangePassword)
	auth.GET("/me", authHandler.Me)

	usage := api.Group("/usage", middleware.JWT(authSvc))
	usage.GET("/check-limit", quotaHandler.CheckLimit)
	usage.POST("/increment", quotaHandler.Increment)
	usage.POST("/purchase-package", quotaHandler.PurchasePackage)

	referrals := api.Group("/referrals", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher))
	referrals.GET("", referralHandler.List)
	referrals.POST("", referralHandler.Create)
	referrals.GET("/:id", referralHandler.Get)
	referrals.PUT("/:id", referralHandler.Update)
	referrals.DELETE("/:id", referralHandler.Delete)
	referrals.GET("/:id/suggestions", referralHandler.Suggestions)

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/teachers", userHandler.List)
	admin.POST("/teachers", userHandler.Create)
	admin.GET("/teachers/export", userHandler.Export)
	admin.POST("/teachers/bulk-import", importHandler.BulkImport)
	admin.GET("/teachers/:id", userHandler.Get)
	admin.PUT("/teachers/:id", userHandler.Update)
	admin.DELETE("/teachers/:id", userHandler.Delete)
	admin.GET("/imports/download", importHandler.DownloadArchive)
	admin.POST("/usage/reset", quotaHandler.ResetUsage)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
