package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/controllers"
	"github.com/ManuelReschke/GenFox/app/repository"
	apiv1 "github.com/ManuelReschke/GenFox/internal/api/v1"
	"github.com/ManuelReschke/GenFox/internal/pkg/billing"
	"github.com/ManuelReschke/GenFox/internal/pkg/cache"
	"github.com/ManuelReschke/GenFox/internal/pkg/database"
	"github.com/ManuelReschke/GenFox/internal/pkg/env"
	"github.com/ManuelReschke/GenFox/internal/pkg/generation"
	"github.com/ManuelReschke/GenFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/middleware"
	"github.com/ManuelReschke/GenFox/internal/pkg/ratelimit"
	"github.com/ManuelReschke/GenFox/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.LoadConfig())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close(db)

	cacheCfg := cache.LoadConfig()
	client := cache.NewClient(ctx, cacheCfg)
	defer cache.Close(client)

	app := NewApplication(db, client, cacheCfg)

	go func() {
		<-ctx.Done()
		flog.Info("[API] Shutting down")
		if err := app.Shutdown(); err != nil {
			flog.Errorf("[API] Shutdown failed: %v", err)
		}
	}()

	err = app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the HTTP API on explicit database and Redis handles.
func NewApplication(db *gorm.DB, client *redis.Client, cacheCfg cache.Config) *fiber.App {
	repos := repository.NewFactory(db, client).GetRepositories()
	ledgerSvc := ledger.NewService(db)
	queue := jobqueue.NewQueue(client, jobqueue.LoadConfig())
	progress := jobqueue.NewProgressCache(client)

	genSvc := generation.NewService(generation.Deps{
		Jobs:      repos.Job,
		Users:     repos.AppUser,
		Pricing:   repos.Pricing,
		Ledger:    ledgerSvc,
		Admission: ratelimit.NewAdmission(ratelimit.NewLimiter(client)),
		Queue:     queue,
		Usage:     repos.UsageLog,
	})
	billingSvc := billing.NewService(billing.NewRepository(db), repos.AppUser, ledgerSvc)

	server := apiv1.NewAPIServer(
		controllers.NewGenerationController(genSvc, progress),
		controllers.NewAccountController(genSvc),
		controllers.NewBillingController(billingSvc, env.GetEnv("BILLING_WEBHOOK_SECRET", "")),
		controllers.NewQueueController(repos.Queue, queue, repos.Job),
	)

	if doc, err := apiv1.LoadSpec(context.Background(), apiv1.DefaultSpecPath); err != nil {
		flog.Warnf("[API] %v", err)
	} else if err := apiv1.CheckRoutes(doc); err != nil {
		flog.Warnf("[API] %v", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminAuth := middleware.RequireAdmin(middleware.LoadAdminConfig())

	// fiber metrics
	app.Get("/metrics", adminAuth, monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./" + apiv1.DefaultSpecPath,
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	limiterCfg := router.LoadLimiterConfig()
	if env.GetEnv("API_RATE_LIMIT_STORAGE", "redis") == "redis" {
		limiterCfg.Storage = router.NewLimiterStorage(cacheCfg)
	}

	// ROUTER
	router.InstallRouter(app, router.NewApiRouter(server, apiv1.Guards{
		Tenant: middleware.TenantAPIKeyMiddleware(repos.Tenant),
		Admin:  adminAuth,
	}, limiterCfg))

	return app
}
