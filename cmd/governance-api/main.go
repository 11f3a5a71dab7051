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
	"go.uber.org/zap"

	_ "github.com/mcintoshjames-sketch/MRM3-sub005/api/swagger"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/dto"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/handler"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/middleware"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/models"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/repository"
	"github.com/mcintoshjames-sketch/MRM3-sub005/internal/service"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/cache"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/config"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/database"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/jobs"
	"github.com/mcintoshjames-sketch/MRM3-sub005/pkg/logger"
	corsmiddleware "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/middleware/cors"
	reqidmiddleware "github.com/mcintoshjames-sketch/MRM3-sub005/pkg/middleware/requestid"
)

// @title Validation Governance API
// @version 0.1.0
// @description Model validation workflow, approval aggregation, overdue tracking and exception detection
// @BasePath /
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
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	if cfg.Database.MigrationsUp {
		if err := database.Migrate(db); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories.
	requestRepo := repository.NewValidationRequestRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	commentRepo := repository.NewOverdueCommentRepository(db)
	exceptionRepo := repository.NewExceptionRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	regionRepo := repository.NewRegionRepository(db)
	modelStateRepo := repository.NewModelStateRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsService := service.NewMetricsService()
	policyService := service.NewPolicyService(policyRepo, regionRepo, cacheRepo,
		auditRepo, cfg.Governance.ReferenceCacheTTL, logr)
	workflowService := service.NewWorkflowService(requestRepo, modelStateRepo, policyService,
		auditRepo, logr,
		service.WithPriorChainMaxDepth(cfg.Governance.PriorChainMaxDepth))
	exceptionService := service.NewExceptionService(exceptionRepo, modelStateRepo, requestRepo,
		auditRepo, logr,
		service.WithType1RunLength(cfg.Detection.Type1RunLength),
		service.WithMaxSweepModels(cfg.Detection.MaxDetectAllModels),
		service.WithExceptionMetrics(metricsService))
	approvalService := service.NewApprovalService(approvalRepo, requestRepo, policyService,
		auditRepo, logr,
		service.WithApprovalObserver(exceptionService))
	overdueService := service.NewOverdueService(requestRepo, commentRepo, modelStateRepo,
		policyService, auditRepo, logr)
	authService := service.NewAuthService(userRepo, auditRepo, validator.New(), logr, service.AuthConfig{
		Secret:            cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		RefreshExpiry:     cfg.JWT.RefreshExpiration,
		Issuer:            "governance-api",
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	requestHandler := handler.NewValidationRequestHandler(workflowService, metricsService)
	approvalHandler := handler.NewApprovalHandler(approvalService, metricsService)
	overdueHandler := handler.NewOverdueHandler(overdueService)
	exceptionHandler := handler.NewExceptionHandler(exceptionService, metricsService)
	policyHandler := handler.NewPolicyHandler(policyService)
	metricsHandler := handler.NewMetricsHandler(metricsService, db.PingContext)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	secured := api.Group("", middleware.JWT(authService))
	secured.GET("/auth/me", authHandler.Me)

	requests := secured.Group("/validation-requests")
	requests.GET("", requestHandler.List)
	requests.GET("/:id", requestHandler.Get)
	requests.GET("/:id/history", requestHandler.History)
	requests.POST("", middleware.RequireRoles(models.RoleModelOwner), requestHandler.Create)
	requests.POST("/:id/submit", middleware.RequireRoles(models.RoleModelOwner), requestHandler.Submit)
	requests.POST("/:id/receive", middleware.RequireRoles(models.RoleValidator), requestHandler.ReceiveSubmission)
	requests.POST("/:id/start", middleware.RequireRoles(models.RoleValidator), requestHandler.Start)
	requests.POST("/:id/request-approval", middleware.RequireRoles(models.RoleValidator), requestHandler.RequestApproval)
	requests.POST("/:id/reject", middleware.RequireRoles(models.RoleValidator), requestHandler.Reject)
	requests.POST("/:id/cancel", middleware.RequireRoles(models.RoleModelOwner, models.RoleValidator), requestHandler.Cancel)
	requests.POST("/:id/send-back", middleware.RequireRoles(models.RoleValidator), requestHandler.SendBack)
	requests.POST("/:id/resume-revision", middleware.RequireRoles(models.RoleModelOwner, models.RoleValidator), requestHandler.ResumeRevision)
	requests.POST("/:id/hold", middleware.RequireRoles(models.RoleValidator), requestHandler.Hold)
	requests.POST("/:id/resume", middleware.RequireRoles(models.RoleValidator), requestHandler.Resume)

	requests.GET("/:id/overdue", overdueHandler.Classification)
	requests.GET("/:id/overdue/comment-status", overdueHandler.CommentStatus)
	requests.GET("/:id/overdue/comments", overdueHandler.ListComments)
	requests.POST("/:id/overdue/comments", middleware.RequireRoles(models.RoleModelOwner), overdueHandler.AddComment)

	requests.GET("/:id/approvals/status", approvalHandler.Status)
	requests.POST("/:id/approvals", middleware.RequireRoles(models.RoleValidator), approvalHandler.Record)
	secured.POST("/approvals/:id/finalize",
		middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(auditRepo, "approval.finalize", "validation_approval"),
		approvalHandler.Finalize)

	exceptions := secured.Group("/exceptions")
	exceptions.GET("", exceptionHandler.List)
	exceptions.GET("/:id", exceptionHandler.Get)
	exceptions.POST("/:id/acknowledge", middleware.RequireRoles(models.RoleValidator), exceptionHandler.Acknowledge)
	exceptions.POST("/:id/close", middleware.RequireRoles(models.RoleValidator), exceptionHandler.Close)
	exceptions.POST("/detect",
		middleware.RequireRoles(models.RoleValidator),
		middleware.Audit(auditRepo, "exception.detect", "model_exception"),
		exceptionHandler.Detect)

	secured.GET("/policies", policyHandler.List)
	secured.GET("/policies/:riskTier", policyHandler.Get)
	secured.PUT("/policies/:riskTier",
		middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(auditRepo, "policy.upsert", "validation_policy"),
		policyHandler.Upsert)
	secured.GET("/regions", policyHandler.ListRegions)
	secured.GET("/regions/:code", policyHandler.GetRegion)
	secured.GET("/grace-buckets", policyHandler.GraceBuckets)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sweepQueue *jobs.Queue
	if cfg.Detection.Enabled {
		sweepQueue = jobs.NewQueue("detection-sweep", func(ctx context.Context, job jobs.Job) error {
			start := time.Now()
			sweep, err := exceptionService.DetectAll(ctx, dto.DetectRequest{})
			if err != nil {
				return err
			}
			metricsService.ObserveSweep(sweep.Requested, time.Since(start))
			logr.Info("detection sweep finished",
				zap.Int("requested", sweep.Requested),
				zap.Int("succeeded", sweep.Succeeded),
				zap.Int("failed", sweep.Failed))
			return nil
		}, jobs.QueueConfig{
			Workers:    1,
			MaxRetries: cfg.Detection.WorkerRetries,
			Logger:     logr,
		})
		sweepQueue.Start(ctx)
		defer sweepQueue.Stop()

		go func() {
			ticker := time.NewTicker(cfg.Detection.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !sweepQueue.TryEnqueue(jobs.Job{Type: "sweep"}) {
						logr.Warn("detection sweep still running, skipping tick")
					}
				}
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
