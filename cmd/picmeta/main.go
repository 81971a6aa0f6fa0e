package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/picmetahq/picmeta/app/models"
	"github.com/picmetahq/picmeta/app/repository"
	apiv1 "github.com/picmetahq/picmeta/internal/api/v1"
	"github.com/picmetahq/picmeta/internal/pkg/billing"
	"github.com/picmetahq/picmeta/internal/pkg/cache"
	"github.com/picmetahq/picmeta/internal/pkg/database"
	"github.com/picmetahq/picmeta/internal/pkg/entitlements"
	"github.com/picmetahq/picmeta/internal/pkg/env"
	"github.com/picmetahq/picmeta/internal/pkg/metrics/counter"
	"github.com/picmetahq/picmeta/internal/pkg/router"
	"github.com/picmetahq/picmeta/internal/pkg/scheduler"
)

func main() {
	app, sched := NewApplication()

	// run the daily maintenance alongside the HTTP server
	sched.Start()

	// drain the pending request counters into the database periodically
	flushStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-flushStop:
				return
			case <-ticker.C:
				if err := counter.FlushAll(); err != nil {
					log.Printf("Request counter flush failed: %v", err)
				}
			}
		}
	}()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		close(flushStop)
		if err := counter.FlushAll(); err != nil {
			log.Printf("Final request counter flush failed: %v", err)
		}
		sched.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()

	loc, err := time.LoadLocation(env.GetEnv("APP_TIMEZONE", "UTC"))
	if err != nil {
		log.Fatalf("Invalid APP_TIMEZONE: %v", err)
	}
	models.SetDayLocation(loc)

	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	cache.SetupCache()

	repos := repository.GetGlobalRepositories()
	entService := entitlements.NewService(repos.AppKey, repos.PricingPlan)
	billService := billing.NewService(repos.PaymentEvent, entService)
	sched := scheduler.New(repos.AppKey, scheduler.NewCacheRunLog())

	app := fiber.New(fiber.Config{
		AppName: "PicMeta",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	specPath := env.GetEnv("OPENAPI_SPEC", "./docs/v1/openapi.yml")
	if _, err := os.Stat(specPath); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	server := apiv1.NewAPIServer(entService, billService, sched)
	router.InstallRouter(app, server)

	return app, sched
}
