// The worker runs the asynchronous half of the engine: the task
// executor with its retry/abort sweeps, the transaction expiry and
// task-export sweeps, and the webhook delivery consumer.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cinetick/reservation-engine/internal/catalog"
	"github.com/cinetick/reservation-engine/internal/config"
	"github.com/cinetick/reservation-engine/internal/database"
	"github.com/cinetick/reservation-engine/internal/lock"
	"github.com/cinetick/reservation-engine/internal/model"
	"github.com/cinetick/reservation-engine/internal/queue"
	"github.com/cinetick/reservation-engine/internal/ratelimit"
	"github.com/cinetick/reservation-engine/internal/repository"
	"github.com/cinetick/reservation-engine/internal/service"
	"github.com/cinetick/reservation-engine/internal/task"
	"github.com/cinetick/reservation-engine/internal/transaction"
	"github.com/cinetick/reservation-engine/internal/worker"
)

func main() {
	_ = godotenv.Load()
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
	reservations := repository.NewReservationRepo(db)
	tasks := task.NewRepo(db)

	svc := transaction.NewService(
		catalog.NewEventClient(catalogClient),
		catalog.NewOfferClient(catalogClient),
		catalog.NewMembershipClient(catalogClient),
		catalog.NewNumberingClient(cfg.NumberingURL),
		transaction.LogAuditLog{},
		seats,
		ratelimit.NewLimiter(rdb, cfg.RedisPrefix),
		reservations,
		repository.NewTransactionRepo(db),
		tasks,
		transaction.Config{
			AdvanceBookingDays: cfg.AdvanceBookingDays,
			TransactionTTL:     time.Duration(cfg.TransactionTTLMin) * time.Minute,
			SeatLockMargin:     time.Duration(cfg.SeatLockMarginHours) * time.Hour,
			TaskTries:          cfg.TaskTries,
			Project:            cfg.Project,
			WebhookSubscribers: cfg.WebhookSubscribers,
		},
	)

	exec := worker.NewExecutor(tasks, cfg.Project, time.Second, cfg.TaskRetryMin)
	exec.Register(model.TaskNameTriggerWebhook, worker.NewTriggerWebhookHandler(service.NewWebhookPublisher(cfg.AMQPURL)))
	exec.Register(model.TaskNameReserve, worker.NewReserveHandler(reservations))
	exec.Register(model.TaskNameCancelPendingReservation, worker.NewCancelPendingReservationHandler(svc))
	exec.Register(model.TaskNameCancelReservation, worker.NewCancelReservationHandler(reservations))
	exec.Register(model.TaskNameAggregateScreeningEvent, worker.NewAggregateScreeningEventHandler(seats, reservations))

	// Expiry and export run alongside the task sweeps so terminal
	// transactions always get their follow-up tasks scheduled.
	exec.AddSweep(func(ctx context.Context) {
		ids, err := svc.MakeExpired(ctx)
		if err != nil {
			log.Printf("worker: expiry sweep: %v", err)
			return
		}
		for _, id := range ids {
			log.Printf("worker: expired transaction %s", id)
		}
	})
	exec.AddSweep(func(ctx context.Context) {
		for {
			exported, err := svc.ExportTasks(ctx)
			if err != nil {
				log.Printf("worker: export sweep: %v", err)
				return
			}
			if !exported {
				return
			}
		}
	})

	go func() {
		if err := queue.StartWebhookConsumer(cfg.AMQPURL); err != nil {
			log.Printf("webhook consumer stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	exec.Run(ctx)
}
