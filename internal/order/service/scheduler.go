package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ExpiryScheduler periodically cancels orders whose payment window elapsed.
type ExpiryScheduler struct {
	svc      OrderService
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

func NewExpiryScheduler(svc OrderService, schedule string) *ExpiryScheduler {
	return &ExpiryScheduler{
		svc:      svc,
		schedule: schedule,
		timeout:  time.Minute,
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

func (s *ExpiryScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		return fmt.Errorf("invalid payment expiry schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	logger.Info("Payment expiry scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Stop prevents new runs and returns a context done when the running one ends.
func (s *ExpiryScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ExpiryScheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.svc.ExpireStalePayments(ctx)
	if err != nil {
		logger.Error("Scheduler: payment expiry sweep failed", err)
		return
	}
	if n > 0 {
		logger.Info("Scheduler: cancelled orders past payment expiry", zap.Int("count", n))
	}
}
