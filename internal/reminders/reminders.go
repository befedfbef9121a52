// Package reminders nags reviewers about tasks sitting in review too long.
package reminders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"taskdeck/internal/domain"
	"taskdeck/internal/engine"
)

// Sweeper periodically scans for tasks stuck in pending_review and pings
// their reviewers.
type Sweeper struct {
	Engine engine.Engine
	Logger *log.Logger

	cron *cron.Cron
}

func New(e engine.Engine) *Sweeper {
	return &Sweeper{Engine: e}
}

func (s *Sweeper) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Start schedules the sweep according to config and returns immediately.
// It is a no-op when reminders are disabled.
func (s *Sweeper) Start() error {
	cfg := s.Engine.Config
	if cfg == nil || !cfg.Reminders.Enabled {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.Reminders.Schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger().Printf("reminders: sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reminders: invalid schedule %q: %w", cfg.Reminders.Schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the schedule. Safe to call when Start was never called.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs a single pass. Each stale task produces one notification per
// reviewer and a task.review_reminder event.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cfg := s.Engine.Config
	staleAfter := 24 * time.Hour
	if cfg != nil && cfg.Reminders.StaleAfterHours > 0 {
		staleAfter = time.Duration(cfg.Reminders.StaleAfterHours) * time.Hour
	}
	now := time.Now
	if s.Engine.Now != nil {
		now = s.Engine.Now
	}
	cutoff := now().UTC().Add(-staleAfter).Format(time.RFC3339)

	stale, err := s.Engine.Repo.ListTasksByReviewState(ctx, domain.ReviewPending, cutoff)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if err := s.remind(ctx, t); err != nil {
			s.logger().Printf("reminders: task %s: %v", t.ID, err)
		}
	}
	return nil
}

func (s *Sweeper) remind(ctx context.Context, t domain.Task) error {
	e := s.Engine
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "task.review_reminder", "task", t.ID, "", nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	msg := fmt.Sprintf("Review still pending on %q", t.Title)
	for _, reviewer := range t.Reviewers {
		if err := e.Notify.Notify(ctx, reviewer, msg, "/tasks/"+t.ID); err != nil {
			s.logger().Printf("reminders: notify %s: %v", reviewer, err)
		}
	}
	return nil
}
