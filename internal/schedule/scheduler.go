package schedule

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/seonghun126/algoduel-bot/internal/obslog"
)

// Ticker is the unit of periodic work; the challenge engine satisfies it.
type Ticker interface {
	RunTick(ctx context.Context, now time.Time) error
}

// Scheduler drives the engine tick on a fixed interval.
type Scheduler struct {
	sched    gocron.Scheduler
	ticker   Ticker
	interval time.Duration
}

func New(ticker Ticker, interval time.Duration) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{sched: sched, ticker: ticker, interval: interval}, nil
}

// Start registers the tick job and begins running it. Tick errors are logged;
// the engine keeps its own per-challenge error isolation.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.ticker.RunTick(ctx, time.Now()); err != nil {
				obslog.L().Error("tick_error", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return err
	}
	s.sched.Start()
	obslog.L().Info("scheduler_started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
