package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stall-service/config"
	"stall-service/internal/api"
	"stall-service/internal/broker"
	"stall-service/internal/notify"
	"stall-service/internal/qr"
	"stall-service/internal/redisclient"
	"stall-service/internal/service"
	"stall-service/internal/store"
	"stall-service/internal/util"
	"stall-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  util.ServiceName,
		Usage: "book fair stall reservations",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the notification worker",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "down",
						Usage: "roll back this many migrations instead of applying",
					},
				},
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func migrate(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	if steps := c.Int("down"); steps > 0 {
		if err := store.Rollback(cfg.Database.URL, steps); err != nil {
			return err
		}
		util.GetLogger().Info("Migrations rolled back", zap.Int("steps", steps))
		return nil
	}

	if err := store.Migrate(cfg.Database.URL); err != nil {
		return err
	}
	util.GetLogger().Info("Migrations applied")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting stall service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	// idempotency is optional; bookings still work without redis
	var idempotency service.IdempotencyStore
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, Idempotency-Key support disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		idempotency = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservations)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	qrRenderer := qr.NewRenderer(qr.DefaultSize)
	guard := service.NewCapacityGuard(cfg.Business.MaxStallsPerVendor)
	bookingService := service.NewBookingService(repo, guard, qrRenderer, eventPublisher, idempotency,
		service.BookingConfig{
			PayOnArrivalMethods: cfg.Business.PayOnArrivalMethods,
			IdempotencyTTL:      cfg.Redis.IdempotencyTTL,
		})
	cancellationService := service.NewCancellationService(repo, eventPublisher)
	stallService := service.NewStallService(repo, eventPublisher)
	reservationService := service.NewReservationService(repo, guard)

	mailer, err := newMailer(cfg)
	if err != nil {
		return err
	}
	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservations, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, notify.NewReservationMailer(mailer, qrRenderer))

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(bookingService, cancellationService, stallService, reservationService, repo)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return notificationWorker.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}

		bookingService.Wait()
		cancellationService.Wait()
		stallService.Wait()

		if err := notificationWorker.Stop(); err != nil {
			logger.Error("Error stopping notification worker", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server exited")
	return err
}

func openStore(cfg *config.Config) (store.Repository, error) {
	if cfg.Database.Driver == "memory" {
		repo := store.NewMemoryStore(cfg.Database.LockTimeout)
		repo.SeedDemo()
		util.GetLogger().Info("Using in-memory store with demo inventory")
		return repo, nil
	}

	if err := store.Migrate(cfg.Database.URL); err != nil {
		return nil, err
	}
	repo, err := store.NewStore(cfg.Database.URL, cfg.Database.LockTimeout)
	if err != nil {
		return nil, err
	}
	util.GetLogger().Info("Database connected")
	return repo, nil
}

func newMailer(cfg *config.Config) (notify.Mailer, error) {
	if cfg.Mail.SMTPHost == "" {
		return notify.NewLogMailer(), nil
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.SMTPUsername,
		Password: cfg.Mail.SMTPPassword,
		From:     cfg.Mail.From,
	})
}
