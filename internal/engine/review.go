package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskdeck/internal/domain"
	"taskdeck/internal/engine/policy"
	"taskdeck/internal/events"
	"taskdeck/internal/repo"
)

// SubmitForReview moves an assignee's finished work into the review pipeline.
func (e Engine) SubmitForReview(ctx context.Context, taskID string, actor policy.Actor) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpSubmitReview); err != nil {
		return t, err
	}
	if t.ReviewStatus != domain.ReviewNotSubmitted && t.ReviewStatus != domain.ReviewChangesRequested {
		return t, fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, t.ReviewStatus)
	}
	t.Status = domain.StatusCompleted
	t.ReviewStatus = domain.ReviewPending
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.audit().Append(ctx, tx, "task.submitted", "task", t.ID, actor.ID, events.EventPayload{"review_status": t.ReviewStatus}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	for _, reviewer := range t.Reviewers {
		if reviewer == actor.ID {
			continue
		}
		e.notify(ctx, reviewer, fmt.Sprintf("Task %q was submitted for review", t.Title), taskLink(t.ID))
	}
	return t, nil
}

// ProcessReview records a first-line reviewer's decision. A reviewer who is
// also the creator approves terminally in one step; anyone else advances the
// task to final approval.
func (e Engine) ProcessReview(ctx context.Context, taskID string, actor policy.Actor, decision, comment string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpProcessReview); err != nil {
		return t, err
	}
	return e.applyReviewDecision(ctx, t, actor, decision, comment, actor.ID == t.CreatedBy)
}

// FinalApprove records the creator's terminal decision.
func (e Engine) FinalApprove(ctx context.Context, taskID string, actor policy.Actor, decision, comment string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpFinalApprove); err != nil {
		return t, err
	}
	return e.applyReviewDecision(ctx, t, actor, decision, comment, true)
}

func (e Engine) applyReviewDecision(ctx context.Context, t domain.Task, actor policy.Actor, decision, comment string, terminal bool) (domain.Task, error) {
	now := e.nowString()
	var evtType string
	var revised bool
	switch decision {
	case domain.DecisionApproved:
		if t.ReviewStatus == domain.ReviewApproved {
			return t, ErrAlreadyApproved
		}
		t.Status = domain.StatusCompleted
		if terminal {
			t.ReviewStatus = domain.ReviewApproved
			evtType = "task.approved"
		} else {
			t.ReviewStatus = domain.ReviewPendingFinalApproval
			evtType = "task.review_passed"
		}
	case domain.DecisionChangesRequested:
		if comment == "" {
			return t, ErrMissingComment
		}
		t.Status = determineRevertedStatus(t)
		// Repeated identical decisions do not inflate the revision count.
		if t.ReviewStatus != domain.ReviewChangesRequested {
			t.RevisionCount++
			revised = true
		}
		t.ReviewStatus = domain.ReviewChangesRequested
		evtType = "task.changes_requested"
	default:
		return t, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if revised {
		rev := domain.RevisionEntry{Comment: comment, MadeBy: actor.ID, Timestamp: now}
		if err := e.Repo.AppendRevision(ctx, tx, t.ID, rev); err != nil {
			return t, err
		}
		t.RevisionHistory = append(t.RevisionHistory, rev)
	}
	if err := e.audit().Append(ctx, tx, evtType, "task", t.ID, actor.ID, events.EventPayload{
		"decision":      decision,
		"review_status": t.ReviewStatus,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.notifyDecision(ctx, t, actor, decision)
	return t, nil
}

func (e Engine) notifyDecision(ctx context.Context, t domain.Task, actor policy.Actor, decision string) {
	switch {
	case t.ReviewStatus == domain.ReviewPendingFinalApproval:
		if t.CreatedBy != actor.ID {
			e.notify(ctx, t.CreatedBy, fmt.Sprintf("Task %q awaits your final approval", t.Title), taskLink(t.ID))
		}
	case t.ReviewStatus == domain.ReviewApproved:
		for _, assignee := range t.AssignedTo {
			if assignee == actor.ID {
				continue
			}
			e.notify(ctx, assignee, fmt.Sprintf("Task %q was approved", t.Title), taskLink(t.ID))
		}
	case decision == domain.DecisionChangesRequested:
		for _, assignee := range t.AssignedTo {
			if assignee == actor.ID {
				continue
			}
			e.notify(ctx, assignee, fmt.Sprintf("Changes requested on task %q", t.Title), taskLink(t.ID))
		}
	}
}

// determineRevertedStatus decides what status a task falls back to when review
// sends work backward: partial checklist progress keeps it in_progress rather
// than resetting to pending.
func determineRevertedStatus(t domain.Task) string {
	for _, item := range t.TodoChecklist {
		if item.Completed {
			return domain.StatusInProgress
		}
	}
	return domain.StatusPending
}

// statusMapping is the enumerated (status, reviewStatus) table for direct
// status updates. changes_requested is handled separately because its status
// depends on checklist state.
var statusMapping = map[string]struct {
	status string
	review string
}{
	domain.StatusPending:              {domain.StatusPending, domain.ReviewNotSubmitted},
	domain.StatusInProgress:           {domain.StatusInProgress, domain.ReviewNotSubmitted},
	domain.ReviewPending:              {domain.StatusCompleted, domain.ReviewPending},
	domain.ReviewPendingFinalApproval: {domain.StatusCompleted, domain.ReviewPendingFinalApproval},
	domain.ReviewApproved:             {domain.StatusCompleted, domain.ReviewApproved},
}

// DirectStatusUpdate is the privileged shortcut forcing a combined
// (status, reviewStatus) pair. Reviewers may use every mapping except the
// terminal approved value, which is reserved for admin and creator.
func (e Engine) DirectStatusUpdate(ctx context.Context, taskID string, actor policy.Actor, newStatus string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpDirectStatusUpdate); err != nil {
		return t, err
	}
	var status, review string
	if newStatus == domain.ReviewChangesRequested {
		status = determineRevertedStatus(t)
		review = domain.ReviewChangesRequested
	} else {
		m, ok := statusMapping[newStatus]
		if !ok {
			return t, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
		}
		status, review = m.status, m.review
	}
	if review == domain.ReviewApproved {
		if err := policy.Authorize(actor, t, policy.OpDirectApprove); err != nil {
			return t, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if status == domain.StatusInProgress || status == domain.StatusCompleted {
		if err := e.ensureDependenciesCompleted(ctx, tx, t); err != nil {
			return t, err
		}
	}
	t.Status = status
	t.ReviewStatus = review
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.audit().Append(ctx, tx, "task.status_forced", "task", t.ID, actor.ID, events.EventPayload{
		"status":        t.Status,
		"review_status": t.ReviewStatus,
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// DelegateReview hands the actor's first-line review seat to another user.
// Only valid while the task sits in pending_review.
func (e Engine) DelegateReview(ctx context.Context, taskID string, actor policy.Actor, newReviewerID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.ReviewStatus != domain.ReviewPending {
		return t, fmt.Errorf("%w: delegation only allowed in pending_review, not %s", ErrInvalidTransition, t.ReviewStatus)
	}
	if err := policy.Authorize(actor, t, policy.OpDelegateReview); err != nil {
		return t, err
	}
	if newReviewerID == "" {
		return t, fmt.Errorf("%w: new reviewer id required", ErrInvalidInput)
	}
	if _, err := e.Repo.GetUser(ctx, newReviewerID); err != nil {
		return t, fmt.Errorf("new reviewer %s: %w", newReviewerID, err)
	}
	var reviewers []string
	for _, id := range t.Reviewers {
		if id != actor.ID {
			reviewers = append(reviewers, id)
		}
	}
	reviewers = append(reviewers, newReviewerID)
	t.Reviewers = dedupe(reviewers)
	now := e.nowString()
	t.UpdatedAt = now
	remark := domain.Remark{
		Text:      fmt.Sprintf("Review delegated from %s to %s", actor.ID, newReviewerID),
		MadeBy:    actor.ID,
		Timestamp: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.AppendRemark(ctx, tx, t.ID, remark); err != nil {
		return t, err
	}
	if err := e.audit().Append(ctx, tx, "task.review_delegated", "task", t.ID, actor.ID, events.EventPayload{"to": newReviewerID}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	t.Remarks = append(t.Remarks, remark)
	e.notify(ctx, newReviewerID, fmt.Sprintf("Task %q review was delegated to you", t.Title), taskLink(t.ID))
	return t, nil
}

// BatchResult reports which tasks a bulk review actually touched.
type BatchResult struct {
	Processed int
	TaskIDs   []string
}

// BatchProcessReviews applies a review decision across many tasks,
// best-effort: tasks the actor cannot act on, or that are not in a decision-
// compatible state, are skipped rather than failing the batch.
func (e Engine) BatchProcessReviews(ctx context.Context, taskIDs []string, actor policy.Actor, decision, comment string) (BatchResult, error) {
	if decision != domain.DecisionApproved && decision != domain.DecisionChangesRequested {
		return BatchResult{}, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}
	if decision == domain.DecisionChangesRequested && comment == "" {
		return BatchResult{}, ErrMissingComment
	}
	var result BatchResult
	for _, id := range dedupe(taskIDs) {
		t, err := e.Repo.GetTask(ctx, id)
		if err != nil {
			continue
		}
		terminal := actor.ID == t.CreatedBy
		if terminal {
			err = policy.Authorize(actor, t, policy.OpFinalApprove)
		} else {
			err = policy.Authorize(actor, t, policy.OpProcessReview)
		}
		if err != nil {
			continue
		}
		if _, err := e.applyReviewDecision(ctx, t, actor, decision, comment, terminal); err != nil {
			continue
		}
		result.Processed++
		result.TaskIDs = append(result.TaskIDs, id)
	}
	return result, nil
}

// UpdateChecklist replaces the todo checklist and derives progress and status
// from the completion ratio. The derived status is subject to the dependency
// gate; a blocked update is rejected without partial apply.
func (e Engine) UpdateChecklist(ctx context.Context, taskID string, actor policy.Actor, items []domain.ChecklistItem) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(actor, t, policy.OpUpdateChecklist); err != nil {
		return t, err
	}
	progress, status := deriveChecklistState(items)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if status == domain.StatusInProgress || status == domain.StatusCompleted {
		if err := e.ensureDependenciesCompleted(ctx, tx, t); err != nil {
			return t, err
		}
	}
	t.TodoChecklist = items
	t.Progress = progress
	t.Status = status
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.ReplaceChecklist(ctx, tx, t.ID, items); err != nil {
		return t, err
	}
	if err := e.audit().Append(ctx, tx, "task.checklist_updated", "task", t.ID, actor.ID, events.EventPayload{
		"progress": progress,
		"status":   status,
	}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

func deriveChecklistState(items []domain.ChecklistItem) (int, string) {
	if len(items) == 0 {
		return 0, domain.StatusPending
	}
	completed := 0
	for _, item := range items {
		if item.Completed {
			completed++
		}
	}
	progress := (completed*100 + len(items)/2) / len(items)
	switch {
	case progress == 100:
		return progress, domain.StatusCompleted
	case progress > 0:
		return progress, domain.StatusInProgress
	default:
		return progress, domain.StatusPending
	}
}

// ensureDependenciesCompleted rejects forward progress while any prerequisite
// task is not completed, naming the blocking task titles.
func (e Engine) ensureDependenciesCompleted(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	var blocking []string
	for _, dep := range t.Dependencies {
		d, err := e.Repo.GetTaskTx(ctx, tx, dep)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return err
		}
		if d.Status != domain.StatusCompleted {
			blocking = append(blocking, d.Title)
		}
	}
	if len(blocking) > 0 {
		return BlockedByDependencyError{Titles: blocking}
	}
	return nil
}
