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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lesson-grid-api/api/swagger"
	"github.com/noah-isme/lesson-grid-api/internal/handler"
	internalmiddleware "github.com/noah-isme/lesson-grid-api/internal/middleware"
	"github.com/noah-isme/lesson-grid-api/internal/models"
	"github.com/noah-isme/lesson-grid-api/internal/repository"
	"github.com/noah-isme/lesson-grid-api/internal/service"
	"github.com/noah-isme/lesson-grid-api/pkg/cache"
	"github.com/noah-isme/lesson-grid-api/pkg/config"
	"github.com/noah-isme/lesson-grid-api/pkg/database"
	"github.com/noah-isme/lesson-grid-api/pkg/jobs"
	"github.com/noah-isme/lesson-grid-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lesson-grid-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lesson-grid-api/pkg/middleware/requestid"
)

// @title Lesson Grid API
// @version 1.0.0
// @description Lesson scheduling grid and session lifecycle engine
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()
	clock := service.NewSystemClock(cfg.Schedule.Location())

	sessionRepo := repository.NewLessonSessionRepository(db)
	templateRepo := repository.NewRecurringTemplateRepository(db)
	historyRepo := repository.NewHistoryEventRepository(db)
	directoryRepo := repository.NewResourceDirectoryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "lesson-grid", logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Directory.CacheTTL, logr, cfg.Directory.CacheEnabled && cacheRepo.Enabled())
	directorySvc := service.NewDirectoryService(directoryRepo, cacheSvc, cfg.Directory.CacheTTL, logr)
	recurrenceSvc := service.NewRecurrenceService(templateRepo, sessionRepo, logr)
	conflictSvc := service.NewConflictService(sessionRepo, recurrenceSvc, metricsSvc, logr)
	historySvc := service.NewHistoryService(historyRepo, clock, logr)
	lifecycleSvc := service.NewLifecycleService(
		sessionRepo,
		repository.NewTxRunner(db),
		recurrenceSvc,
		conflictSvc,
		historySvc,
		clock,
		validate,
		metricsSvc,
		logr,
		service.LifecycleConfig{SeriesHorizon: cfg.Schedule.SeriesHorizon},
	)
	querySvc := service.NewSessionQueryService(recurrenceSvc, directorySvc, validate, logr)
	gridSvc := service.NewGridService(recurrenceSvc, directorySvc, gridBuilder(cfg.Schedule, logr), service.NewBuildTracker(), validate, metricsSvc, logr)
	dragSvc := service.NewDragService(
		lifecycleSvc,
		conflictSvc,
		repository.NewIdempotencyRepository(redisClient, "lesson-grid:drop"),
		validate,
		metricsSvc,
		logr,
		service.DragConfig{TTL: cfg.Schedule.DragTTL, IdempotencyTTL: cfg.Schedule.IdempotencyTTL},
	)
	tokens := service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	sweeper := service.NewCompletionSweeper(recurrenceSvc, lifecycleSvc, clock, logr, service.CompletionSweeperConfig{
		Interval: cfg.Schedule.CompletionInterval,
		Lookback: cfg.Schedule.CompletionLookback,
	})
	completionQueue := jobs.NewQueue("session-completion", sweeper.Handle, jobs.QueueConfig{
		Workers:    cfg.Schedule.CompletionWorkers,
		RetryDelay: 30 * time.Second,
		Logger:     logr,
	})
	completionQueue.Start(bgCtx)
	go sweeper.Run(bgCtx, completionQueue)

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Sessions: handler.NewSessionHandler(lifecycleSvc, querySvc, historySvc),
		Schedule: handler.NewScheduleHandler(conflictSvc, recurrenceSvc),
		Grid:     handler.NewGridHandler(gridSvc, dragSvc),
		Metrics:  metricsHandler,
	}, internalmiddleware.JWT(tokens))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "timezone", cfg.Schedule.Location().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	stopBackground()
	completionQueue.Stop()
	logr.Sugar().Info("server stopped")
}

func gridBuilder(cfg config.ScheduleConfig, logr *zap.Logger) *service.GridBuilder {
	start, errStart := models.ParseTimeOfDay(cfg.GridDayStart)
	end, errEnd := models.ParseTimeOfDay(cfg.GridDayEnd)
	if errStart != nil || errEnd != nil {
		logr.Sugar().Warnw("invalid grid day bounds, using defaults", "start", cfg.GridDayStart, "end", cfg.GridDayEnd)
	}
	return service.NewGridBuilder(start, end)
}
