package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/filevault-api/api/swagger"
	"github.com/noah-isme/filevault-api/internal/handler"
	internalmiddleware "github.com/noah-isme/filevault-api/internal/middleware"
	"github.com/noah-isme/filevault-api/internal/repository"
	"github.com/noah-isme/filevault-api/internal/service"
	"github.com/noah-isme/filevault-api/pkg/cache"
	"github.com/noah-isme/filevault-api/pkg/config"
	"github.com/noah-isme/filevault-api/pkg/convert"
	"github.com/noah-isme/filevault-api/pkg/database"
	"github.com/noah-isme/filevault-api/pkg/jobs"
	"github.com/noah-isme/filevault-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/filevault-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/filevault-api/pkg/middleware/requestid"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// @title FileVault API
// @version 1.0.0
// @description Multi-tenant document registry with role based file permissions
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, cfg.Database.MigrationsDir, logr); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	serveBase := strings.TrimRight(cfg.APIPrefix, "/") + "/files/serve/"
	local, err := storage.NewLocalStore(cfg.Storage.Root, storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL), serveBase)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	mirror, err := storage.NewMirror(ctx, cfg.Mirror, logr.Named("mirror"))
	if err != nil {
		return fmt.Errorf("open cloud mirror: %w", err)
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	fileRepo := repository.NewFileRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	revocations := repository.NewTokenBlacklistRepository(redisClient, "")
	cacheRepo := repository.NewCacheRepository(redisClient, "filevault:cache:", logr)

	auditSvc := service.NewAuditService(auditRepo, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.CategoryTTL, logr, cfg.Cache.Enabled)
	authSvc := service.NewAuthService(userRepo, roleRepo, revocations, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	evaluator := service.NewPermissionEvaluator(permissionRepo, metrics, logr)
	categorySvc := service.NewCategoryService(categoryRepo, cacheSvc, auditSvc, validate, logr)
	roleSvc := service.NewRoleService(roleRepo, userRepo, auditSvc, validate, logr)
	userSvc := service.NewUserService(userRepo, roleRepo, auditSvc, validate, logr)

	deps := service.FileServiceDeps{
		Files:          fileRepo,
		Permissions:    permissionRepo,
		Roles:          roleRepo,
		Categories:     categoryRepo,
		Authorizer:     evaluator,
		Audit:          auditSvc,
		Local:          local,
		LocalValidator: storage.NewValidator(cfg.Storage.MaxUploadSize, cfg.Storage.AllowedExtensions),
		ServeTokens:    local,
		Converter:      convert.NewConverter(cfg.Storage.MaxUploadSize),
		Metrics:        metrics,
		Logger:         logr.Named("files"),
	}
	if mirror != nil {
		deps.Mirror = mirror
		deps.MirrorValidator = storage.NewValidator(cfg.Mirror.MaxUploadSize, cfg.Storage.AllowedExtensions)
	}
	fileSvc := service.NewFileService(deps, service.FileServiceConfig{
		DefaultBackend:     storage.Kind(cfg.Storage.DefaultBackend),
		ViewableExtensions: cfg.Storage.ViewableExts,
	})

	if mirror != nil {
		queue := jobs.NewQueue("mirror", fileSvc.RunMirrorJob, jobs.QueueConfig{
			Workers:    cfg.Mirror.Workers,
			MaxRetries: 2,
			RetryDelay: 5 * time.Second,
			OnFailure:  fileSvc.MirrorJobFailed,
			Logger:     logr.Named("jobs"),
		})
		queue.Start(ctx)
		defer queue.Stop()
		fileSvc.SetMirrorQueue(queue)
	}

	scanner := service.NewStorageScanner(fileRepo, local, mirror, cfg.Scan.Concurrency, metrics, logr.Named("scan"))
	if cfg.Scan.Enabled {
		if _, err := scanner.Schedule(ctx, cfg.Scan.Schedule); err != nil {
			return err
		}
		logr.Info("storage scan scheduled", zap.String("schedule", cfg.Scan.Schedule))
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	ops := handler.NewMetricsHandler(metrics, map[string]handler.Pinger{
		"database": db.PingContext,
		"redis":    func(ctx context.Context) error { return cache.Ping(ctx, redisClient) },
	})
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	maxUpload := cfg.Storage.MaxUploadSize
	if mirror != nil && cfg.Mirror.MaxUploadSize > maxUpload {
		maxUpload = cfg.Mirror.MaxUploadSize
	}
	routes := &handler.Router{
		Auth:       handler.NewAuthHandler(authSvc),
		Files:      handler.NewFileHandler(fileSvc, maxUpload),
		Categories: handler.NewCategoryHandler(categorySvc),
		Roles:      handler.NewRoleHandler(roleSvc),
		Users:      handler.NewUserHandler(userSvc),
		Audit:      handler.NewAuditHandler(auditSvc),
		Storage:    handler.NewStorageHandler(scanner),
	}
	routes.Register(r.Group(cfg.APIPrefix), authSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
