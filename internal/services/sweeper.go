package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/markdave123-py/uwia/internal/logger"
)

const sweepTag = "session-sweep"

// Sweeper runs the session TTL sweep on a fixed interval.
type Sweeper struct {
	scheduler *gocron.Scheduler
	sessions  *SessionService
	logger    *slog.Logger
}

func NewSweeper(sessions *SessionService, interval time.Duration, log *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		sessions:  sessions,
		logger:    logger.OrDefault(log).With("component", "sweeper"),
	}
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(interval).Tag(sweepTag).Do(s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.sessions.Sweep(ctx)
	if err != nil {
		s.logger.Error("session sweep failed", "error", err)
		return
	}
	s.logger.Info("session sweep finished", "removed", n)
}

func (s *Sweeper) Start() { s.scheduler.StartAsync() }

func (s *Sweeper) Stop() { s.scheduler.Stop() }
