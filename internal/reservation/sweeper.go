package reservation

import (
	"context"
	"fmt"
	"time"

	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/metrics"
)

const (
	DefaultSweepInterval = 45 * time.Second
	DefaultSweepTimeout  = 20 * time.Second
)

type Sweepable interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// Lease lets one instance sweep per tick. Losing the lease only skips work;
// the sweep itself is safe to run concurrently. Its TTL should match the
// sweep interval.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type SweeperConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSweepTimeout
	}
	return c
}

type Sweeper struct {
	target  Sweepable
	clock   clock.Clock
	cfg     SweeperConfig
	lease   Lease
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewSweeper(target Sweepable, clk clock.Clock, cfg SweeperConfig, log *logger.Logger, lease Lease, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		target:  target,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		lease:   lease,
		logger:  log,
		metrics: m,
	}
}

// RunOnce performs a single sweep. skipped is true when another instance
// holds the lease.
func (s *Sweeper) RunOnce(ctx context.Context) (released int, skipped bool, err error) {
	if s.lease != nil {
		acquired, lerr := s.lease.TryAcquire(ctx)
		if lerr != nil {
			s.logger.Warn("SWEEP", fmt.Sprintf("Lease unavailable, sweeping anyway: %v", lerr))
		} else if !acquired {
			s.logger.Debug("SWEEP", "Another instance holds the sweep lease")
			return 0, true, nil
		} else {
			// A successful sweep keeps the lease until its TTL lapses. A failed
			// one hands it back so another instance can retry on its tick.
			defer func() {
				if err == nil {
					return
				}
				if rerr := s.lease.Release(context.Background()); rerr != nil {
					s.logger.Warn("SWEEP", fmt.Sprintf("Failed to release sweep lease: %v", rerr))
				}
			}()
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	released, err = s.target.ReleaseExpired(runCtx, s.clock.Now())
	duration := time.Since(start)
	s.metrics.Sweep(duration, err)

	if err != nil {
		s.logger.Error("SWEEP", fmt.Sprintf("Sweep failed after releasing %d holds: %v", released, err))
		return released, false, err
	}
	if released > 0 {
		s.logger.LogSweep(released, duration)
	}
	return released, false, nil
}

// Run sweeps immediately and then on every tick until ctx is done. A failed
// sweep is retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("SWEEP", fmt.Sprintf("Expiry sweeper started (interval %s)", s.cfg.Interval))
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SWEEP", "Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}
