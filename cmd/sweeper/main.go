// Command sweeper releases expired ticket holds. It runs the same sweep as
// the API process and can be deployed on its own when the API instances run
// with SWEEP_LEASE so only one of them sweeps per tick.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffles"
	"ms-raffle/internal/reservation"
	leaseredis "ms-raffle/internal/reservation/redis"
	ticketdb "ms-raffle/internal/tickets/db"

	"github.com/google/uuid"
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
	var (
		once     bool
		raffleID string
		noLease  bool
	)
	flagSet := pflag.NewFlagSet("sweeper", pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "sweep a single time and exit")
	flagSet.StringVar(&raffleID, "raffle", "", "with --once, only sweep this raffle")
	flagSet.BoolVar(&noLease, "no-lease", false, "sweep without taking the redis lease")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewLogger("raffle-sweeper")
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	var opts []reservation.Option
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, kafka.Topics{
			SaleFinalized: cfg.Kafka.Topics.SaleFinalized,
			TicketStatus:  cfg.Kafka.Topics.TicketStatus,
		}, log)
		defer producer.Close()
		opts = append(opts, reservation.WithStatusPublisher(producer))
	}

	clk := clock.Real{}
	engine := reservation.NewEngine(&ticketdb.DB{Bun: bunDB}, raffles.NewService(&raffles.DB{Bun: bunDB}, clk, log), clk, reservation.Config{
		HoldDuration:   cfg.Reservation.HoldDuration,
		MaxBatchSize:   cfg.Reservation.MaxBatchSize,
		SweepBatchSize: cfg.Reservation.SweepBatchSize,
	}, log, opts...)

	if once {
		var released int
		if raffleID != "" {
			released, err = engine.ReleaseExpiredForRaffle(ctx, raffleID)
		} else {
			released, err = engine.ReleaseExpired(ctx, clk.Now())
		}
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		log.Info("SWEEP", fmt.Sprintf("Released %d expired holds", released))
		return nil
	}

	var lease reservation.Lease
	if cfg.Reservation.SweepLease && !noLease {
		redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		lease = leaseredis.NewLease(redisClient, "sweeper-"+uuid.NewString(), cfg.Reservation.SweepInterval)
	}

	reservation.NewSweeper(engine, clk, reservation.SweeperConfig{
		Interval: cfg.Reservation.SweepInterval,
		Timeout:  cfg.Reservation.SweepTimeout,
	}, log, lease, nil).Run(ctx)
	return nil
}
