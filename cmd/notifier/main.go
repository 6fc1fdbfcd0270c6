// Command notifier announces finalized sales to the raffle's Telegram chat.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/notification"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var dedupeTTL time.Duration
	flagSet := pflag.NewFlagSet("notifier", pflag.ContinueOnError)
	flagSet.DurationVar(&dedupeTTL, "dedupe-ttl", 7*24*time.Hour, "how long an announced ticket is remembered")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	_ = godotenv.Load()
	cfg := config.Load()
	if !cfg.Kafka.Enabled {
		return errors.New("KAFKA_ENABLED is false, nothing to consume")
	}

	log := logger.NewLogger("raffle-notifier")
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	sender, err := notification.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.AdminChatID)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	service := notification.NewService(sender, &notification.RedisDeduper{Client: redisClient, TTL: dedupeTTL}, log)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.SaleFinalized, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.Info("KAFKA", fmt.Sprintf("Consuming %s as %s", cfg.Kafka.Topics.SaleFinalized, cfg.Kafka.GroupID))
	if err := consumer.Run(ctx, service.HandleSaleEvent); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("APP", "✅ Notifier shutdown complete")
	return nil
}
