package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mkessels/paybridge/app/controllers"
	"github.com/mkessels/paybridge/app/repository"
	"github.com/mkessels/paybridge/internal/pkg/cache"
	"github.com/mkessels/paybridge/internal/pkg/config"
	"github.com/mkessels/paybridge/internal/pkg/database"
	"github.com/mkessels/paybridge/internal/pkg/env"
	"github.com/mkessels/paybridge/internal/pkg/ledger"
	"github.com/mkessels/paybridge/internal/pkg/notify"
	"github.com/mkessels/paybridge/internal/pkg/payments"
	"github.com/mkessels/paybridge/internal/pkg/reconcile"
	"github.com/mkessels/paybridge/internal/pkg/retryqueue"
	"github.com/mkessels/paybridge/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}

	redisClient, err := cache.NewClient(cfg)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}

	repos := repository.NewRepositories(db)
	notifier := notify.NewMailNotifier(cfg)
	scheduler := retryqueue.NewScheduler(redisClient, notifier, cfg.RetryDelay, cfg.RetryMaxAttempt, cfg.RetryWorkers)

	engine := reconcile.NewEngine(
		repos.Orders,
		scheduler,
		ledger.NewClient(cfg),
		payments.NewClient(cfg),
		notifier,
		cfg,
	)

	scheduler.Start(engine)
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		AppName: "paybridge",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app,
		router.NewHttpRouter(controllers.NewWebhookController(engine, repos.WebhookEvents)),
	)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Print("shutting down")
		_ = app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort)); err != nil {
		log.Fatal(err)
	}
}
