package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/domain"
	"taskdeck/internal/engine/policy"
	"taskdeck/internal/events"
	"taskdeck/internal/repo"
)

// StartTimer opens a time log for (task, actor). At most one log per
// (task, user) may be running; a second start fails without creating a record.
func (e Engine) StartTimer(ctx context.Context, taskID string, actor policy.Actor) (domain.TimeLog, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TimeLog{}, err
	}
	if err := policy.Authorize(actor, t, policy.OpStartTimer); err != nil {
		return domain.TimeLog{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeLog{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.OpenTimeLog(ctx, tx, taskID, actor.ID); err == nil {
		return domain.TimeLog{}, ErrAlreadyRunning
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.TimeLog{}, err
	}
	l := domain.TimeLog{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    actor.ID,
		StartTime: e.nowString(),
	}
	if err := e.Repo.InsertTimeLog(ctx, tx, l); err != nil {
		return domain.TimeLog{}, err
	}
	if err := e.audit().Append(ctx, tx, "timer.started", "time_log", l.ID, actor.ID, events.EventPayload{"task_id": taskID}); err != nil {
		return domain.TimeLog{}, err
	}
	return l, tx.Commit()
}

// StopTimer closes a running log and fixes its duration in milliseconds.
// Negative durations from clock skew are stored as observed; the value is an
// anomaly for reporting, not a validation failure.
func (e Engine) StopTimer(ctx context.Context, timeLogID, taskID string, actor policy.Actor) (domain.TimeLog, error) {
	l, err := e.Repo.GetTimeLog(ctx, timeLogID)
	if err != nil {
		return l, err
	}
	if l.TaskID != taskID {
		return domain.TimeLog{}, repo.ErrNotFound
	}
	if err := policy.AuthorizeTimeLog(actor, l); err != nil {
		return l, err
	}
	if l.EndTime != nil {
		return l, ErrAlreadyStopped
	}
	start, err := time.Parse(time.RFC3339, l.StartTime)
	if err != nil {
		return l, fmt.Errorf("parse start time: %w", err)
	}
	// Timestamps persist at whole-second precision, so the duration is
	// computed from the truncated clock to keep it equal to end minus start.
	now := e.now().UTC().Truncate(time.Second)
	end := now.Format(time.RFC3339)
	l.EndTime = &end
	l.DurationMS = now.Sub(start).Milliseconds()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTimeLog(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.audit().Append(ctx, tx, "timer.stopped", "time_log", l.ID, actor.ID, events.EventPayload{
		"task_id":     l.TaskID,
		"duration_ms": l.DurationMS,
	}); err != nil {
		return l, err
	}
	return l, tx.Commit()
}

// ActiveTimers returns the caller's running logs. Pure read.
func (e Engine) ActiveTimers(ctx context.Context, userID string) ([]domain.TimeLog, error) {
	return e.Repo.ListOpenTimeLogs(ctx, userID)
}

// LiveEntry joins a running log against its task and user for display.
type LiveEntry struct {
	Log       domain.TimeLog `json:"log"`
	TaskTitle string         `json:"task_title"`
	UserName  string         `json:"user_name"`
}

// LiveTasks lists everyone currently on the clock.
func (e Engine) LiveTasks(ctx context.Context) ([]LiveEntry, error) {
	logs, err := e.Repo.ListOpenTimeLogs(ctx, "")
	if err != nil {
		return nil, err
	}
	var entries []LiveEntry
	for _, l := range logs {
		entry := LiveEntry{Log: l}
		if t, err := e.Repo.GetTask(ctx, l.TaskID); err == nil {
			entry.TaskTitle = t.Title
		}
		if u, err := e.Repo.GetUser(ctx, l.UserID); err == nil {
			entry.UserName = u.Name
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TaskTimeTotal sums logged milliseconds across all stopped logs of a task.
func (e Engine) TaskTimeTotal(ctx context.Context, taskID string) (int64, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return 0, err
	}
	return e.Repo.TaskTimeTotal(ctx, taskID)
}
