package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/remind-api/internal/config"
	"github.com/jwalitptl/remind-api/internal/handler/health"
	"github.com/jwalitptl/remind-api/internal/handler/ops"
	"github.com/jwalitptl/remind-api/internal/push"
	"github.com/jwalitptl/remind-api/internal/repository/postgres"
	"github.com/jwalitptl/remind-api/internal/router"
	"github.com/jwalitptl/remind-api/internal/service/dispatch"
	remindsvc "github.com/jwalitptl/remind-api/internal/service/remind"
	"github.com/jwalitptl/remind-api/internal/urlbuilder"
	"github.com/jwalitptl/remind-api/internal/worker"
	"github.com/jwalitptl/remind-api/pkg/logger"
	redisbroker "github.com/jwalitptl/remind-api/pkg/messaging/redis"
	"github.com/jwalitptl/remind-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	appLogger := logger.FromZerolog(log.Logger)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	m := metrics.NewMetrics("remind")

	baseRepo := postgres.NewBaseRepository(db)
	remindRepo := postgres.NewRemindRepository(baseRepo)
	userRepo := postgres.NewUserRepository(baseRepo)

	sender := push.NewBrokerSender(broker, push.BrokerSenderConfig{
		Channel:   cfg.Push.Channel,
		TopColor:  cfg.Push.TopColor,
		RateLimit: rate.Limit(cfg.Dispatch.RateLimit),
		RateBurst: cfg.Dispatch.RateBurst,
	}, m)

	urls := urlbuilder.New(cfg.Push.BaseURL)

	dispatcher := dispatch.NewDispatcher(userRepo, sender, urls, dispatch.Config{
		PoolSize:        cfg.Dispatch.PoolSize,
		DeliveryTimeout: cfg.Dispatch.DeliveryTimeout,
		TemplateID:      cfg.Push.TemplateID,
	}, appLogger, m)

	processor := worker.NewProcessor(remindRepo, dispatcher, worker.ProcessorConfig{
		PollInterval:      cfg.Dispatch.PollInterval,
		MaxRetries:        cfg.Dispatch.MaxRetries,
		SendingLease:      cfg.Dispatch.SendingLease,
		RecordConcurrency: cfg.Dispatch.RecordConcurrency,
	}, appLogger, m)

	reminds := remindsvc.NewService(remindRepo)

	engine := router.New(
		health.NewHandler(db),
		ops.NewHandler(reminds, processor),
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: engine,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting ops server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ops server failed")
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ops server shutdown failed")
		}
		cancel()
	}()

	processor.Start(ctx)
}
