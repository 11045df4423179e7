package events

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type retentionSweeper struct {
	cron *cron.Cron
}

func (r *retentionSweeper) stop() {
	if r != nil && r.cron != nil {
		r.cron.Stop()
	}
}

// StartRetention schedules periodic deletion of events older than horizon.
// The schedule is a standard cron expression. Deployments must keep the
// horizon above the largest trigger window or proactive counting breaks.
func (s *Store) StartRetention(schedule string, horizon time.Duration) error {
	if s.retention != nil {
		return fmt.Errorf("retention sweep already started")
	}
	if horizon <= 0 {
		return fmt.Errorf("retention horizon must be positive")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().UTC().Add(-horizon)
		n, err := s.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Warn("event retention sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("event retention sweep",
				zap.Int64("deleted", n),
				zap.Time("cutoff", cutoff),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule: %w", err)
	}

	c.Start()
	s.retention = &retentionSweeper{cron: c}
	return nil
}
