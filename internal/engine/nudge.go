package engine

import (
	"context"
	"fmt"
	"time"

	"taskdeck/internal/domain"
	"taskdeck/internal/engine/policy"
	"taskdeck/internal/events"
)

const defaultNudgeWindow = 4 * time.Hour

func (e Engine) nudgeWindow() time.Duration {
	if e.Config != nil && e.Config.Nudge.WindowMinutes > 0 {
		return time.Duration(e.Config.Nudge.WindowMinutes) * time.Minute
	}
	return defaultNudgeWindow
}

// NudgeTask sends a rate-limited reminder to a task's assignees. The actor is
// excluded from the recipients; a nudge with nobody left to notify fails
// without consuming the rate-limit window.
func (e Engine) NudgeTask(ctx context.Context, taskID string, actor policy.Actor) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpNudge); err != nil {
		return t, err
	}
	now := e.now().UTC()
	if t.LastNudgedAt != nil {
		last, err := time.Parse(time.RFC3339, *t.LastNudgedAt)
		if err == nil {
			elapsed := now.Sub(last)
			if elapsed < e.nudgeWindow() {
				return t, RateLimitedError{Remaining: e.nudgeWindow() - elapsed}
			}
		}
	}
	var recipients []string
	for _, assignee := range t.AssignedTo {
		if assignee != actor.ID {
			recipients = append(recipients, assignee)
		}
	}
	if len(recipients) == 0 {
		return t, ErrNoEligibleRecipients
	}
	nowStr := now.Format(time.RFC3339)
	t.LastNudgedAt = &nowStr
	t.UpdatedAt = nowStr

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.audit().Append(ctx, tx, "task.nudged", "task", t.ID, actor.ID, events.EventPayload{"recipients": len(recipients)}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	for _, recipient := range recipients {
		e.notify(ctx, recipient, fmt.Sprintf("Reminder: task %q needs attention", t.Title), taskLink(t.ID))
	}
	return t, nil
}
