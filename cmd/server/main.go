package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/cinetick/reservation-engine/internal/catalog"
	"github.com/cinetick/reservation-engine/internal/config"
	"github.com/cinetick/reservation-engine/internal/database"
	"github.com/cinetick/reservation-engine/internal/handler"
	"github.com/cinetick/reservation-engine/internal/lock"
	"github.com/cinetick/reservation-engine/internal/ratelimit"
	"github.com/cinetick/reservation-engine/internal/repository"
	"github.com/cinetick/reservation-engine/internal/router"
	"github.com/cinetick/reservation-engine/internal/task"
	"github.com/cinetick/reservation-engine/internal/transaction"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Fatal("redis: connection failed; seat locks cannot run without it")
	}
	defer rdb.Close()

	catalogClient := catalog.NewClient(cfg.CatalogBaseURL)
	seats := lock.NewSeatStore(rdb, cfg.RedisPrefix)

	svc := transaction.NewService(
		catalog.NewEventClient(catalogClient),
		catalog.NewOfferClient(catalogClient),
		catalog.NewMembershipClient(catalogClient),
		catalog.NewNumberingClient(cfg.NumberingURL),
		transaction.LogAuditLog{},
		seats,
		ratelimit.NewLimiter(rdb, cfg.RedisPrefix),
		repository.NewReservationRepo(db),
		repository.NewTransactionRepo(db),
		task.NewRepo(db),
		transaction.Config{
			AdvanceBookingDays: cfg.AdvanceBookingDays,
			TransactionTTL:     time.Duration(cfg.TransactionTTLMin) * time.Minute,
			SeatLockMargin:     time.Duration(cfg.SeatLockMarginHours) * time.Hour,
			TaskTries:          cfg.TaskTries,
			Project:            cfg.Project,
			WebhookSubscribers: cfg.WebhookSubscribers,
		},
	)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.Register(
		e,
		handler.NewTransactionHandler(svc),
		handler.NewAvailabilityHandler(seats),
		cfg.JWTSecret,
		config.LoadRateLimitConfig(),
		rdb,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
