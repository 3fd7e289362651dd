package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/bootstrap"
	"github.com/Domenick1991/airbooking-payments/internal/email"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/robfig/cron/v3"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer deps.Close()

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.NotificationsTopic != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, deps.Log.WithField("component", "consumer"))
		defer consumer.Close()

		emailSender := email.NewSender(deps.Log.WithField("component", "email"))
		go func() {
			if err := consumer.Consume(ctx, emailSender.Send); err != nil && !errors.Is(err, context.Canceled) {
				deps.Log.WithError(err).Error("consumer stopped")
			}
		}()
	}

	sweeper := deps.Sweeper(cfg.Sweep)
	cronLog := cron.PrintfLogger(deps.Log.WithField("component", "cron"))
	scheduler := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Sweep.Interval), func() {
		if _, err := sweeper.Run(ctx); err != nil {
			deps.Log.WithError(err).Error("sweep failed")
		}
	}); err != nil {
		deps.Log.WithError(err).Fatal("schedule sweep")
	}
	scheduler.Start()
	deps.Log.WithField("interval", cfg.Sweep.Interval.String()).Info("worker started")

	<-ctx.Done()
	deps.Log.Info("shutting down")
	<-scheduler.Stop().Done()
}
