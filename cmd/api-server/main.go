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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/school-vax/portal-api/api/swagger"
	"github.com/school-vax/portal-api/internal/handler"
	"github.com/school-vax/portal-api/internal/middleware"
	"github.com/school-vax/portal-api/internal/repository"
	"github.com/school-vax/portal-api/internal/service"
	"github.com/school-vax/portal-api/pkg/cache"
	"github.com/school-vax/portal-api/pkg/config"
	"github.com/school-vax/portal-api/pkg/database"
	"github.com/school-vax/portal-api/pkg/jobs"
	"github.com/school-vax/portal-api/pkg/logger"
	corsmiddleware "github.com/school-vax/portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/school-vax/portal-api/pkg/middleware/requestid"
	"github.com/school-vax/portal-api/pkg/storage"
)

// @title School Vaccination Portal API
// @version 1.0.0
// @description Student vaccination record keeping for school coordinators
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

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Dashboard.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, dashboard caching disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)
		}
	}

	studentRepo := repository.NewStudentRepository(db)
	vaccineRepo := repository.NewVaccineRepository(db)
	driveRepo := repository.NewDriveRepository(db)
	vaccinationRepo := repository.NewVaccinationRepository(db)
	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)
	jobRepo := repository.NewExportJobRepository(db)

	fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	studentSvc := service.NewStudentService(studentRepo, vaccinationRepo, cacheSvc, nil, logr)
	vaccineSvc := service.NewVaccineService(vaccineRepo, nil, logr)
	driveSvc := service.NewDriveService(driveRepo, vaccineRepo, cfg.Drives.MinLeadDays, nil, logr)
	vaccinationSvc := service.NewVaccinationService(vaccinationRepo, driveRepo, studentRepo, cacheSvc, nil, logr)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "school-vax-portal",
	})

	exportSvc := service.NewExportService(reportRepo, fileStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, nil, nil)

	worker := service.NewExportWorker(jobRepo, exportSvc, metricsSvc, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("report-exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		Logger:     logr,
	})

	reportSvc := service.NewReportService(reportRepo, jobRepo, queue, exportSvc, cacheSvc, logr, reportConfig(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	vaccineHandler := handler.NewVaccineHandler(vaccineSvc)
	driveHandler := handler.NewDriveHandler(driveSvc, vaccinationSvc)
	vaccinationHandler := handler.NewVaccinationHandler(vaccinationSvc)
	reportHandler := handler.NewReportHandler(reportSvc)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	authRequired := api.Group("")
	authRequired.Use(middleware.JWT(authSvc))
	{
		authRequired.POST("/auth/logout", authHandler.Logout)
		authRequired.POST("/auth/change-password", authHandler.ChangePassword)
		authRequired.GET("/auth/me", authHandler.Me)

		students := authRequired.Group("/students")
		students.GET("", studentHandler.List)
		students.POST("", studentHandler.Create)
		students.GET("/export", studentHandler.Export)
		students.GET("/template", studentHandler.Template)
		students.POST("/bulk_import", studentHandler.BulkImport)
		students.GET("/:id", studentHandler.Get)
		students.PUT("/:id", studentHandler.Update)
		students.DELETE("/:id", studentHandler.Delete)

		vaccines := authRequired.Group("/vaccines")
		vaccines.GET("", vaccineHandler.List)
		vaccines.POST("", vaccineHandler.Create)
		vaccines.GET("/:id", vaccineHandler.Get)
		vaccines.PUT("/:id", vaccineHandler.Update)
		vaccines.DELETE("/:id", vaccineHandler.Delete)

		drives := authRequired.Group("/drives")
		drives.GET("", driveHandler.List)
		drives.POST("", driveHandler.Create)
		drives.GET("/:id", driveHandler.Get)
		drives.PUT("/:id", driveHandler.Update)
		drives.DELETE("/:id", driveHandler.Delete)
		drives.POST("/:id/mark_students", driveHandler.MarkStudents)

		vaccinations := authRequired.Group("/vaccinations")
		vaccinations.GET("", vaccinationHandler.List)
		vaccinations.POST("", vaccinationHandler.Create)
		vaccinations.POST("/check_eligibility", vaccinationHandler.CheckEligibility)
		vaccinations.GET("/:id", vaccinationHandler.Get)
		vaccinations.PUT("/:id", vaccinationHandler.Update)
		vaccinations.DELETE("/:id", vaccinationHandler.Delete)

		reports := authRequired.Group("/reports")
		reports.GET("/dashboard_stats", reportHandler.DashboardStats)
		reports.GET("/vaccination_report", reportHandler.VaccinationReport)
		reports.POST("/export", reportHandler.CreateExport)
		reports.GET("/export/:id", reportHandler.ExportStatus)
	}

	// Downloads authenticate through the signed token instead of a JWT so
	// links can be opened directly from the browser.
	api.GET("/reports/download/:token", reportHandler.Download)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown error", "error", err)
	}
}

func reportConfig(cfg *config.Config) service.ReportServiceConfig {
	return service.ReportServiceConfig{
		CacheTTL:        cfg.Dashboard.CacheTTL,
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	}
}
