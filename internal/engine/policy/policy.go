// Package policy consolidates per-operation authorization into a single
// decision function. Every mutating engine operation asks Authorize with the
// acting principal, the target task and the operation name, and receives an
// explicit allow/deny with reason instead of scattering role checks across
// handlers.
package policy

import (
	"fmt"

	"taskdeck/internal/domain"
)

// Operation names passed to Authorize.
const (
	OpSubmitReview       = "task.submit_review"
	OpProcessReview      = "task.process_review"
	OpFinalApprove       = "task.final_approve"
	OpDirectStatusUpdate = "task.direct_status_update"
	OpDirectApprove      = "task.direct_approve"
	OpDelegateReview     = "task.delegate_review"
	OpNudge              = "task.nudge"
	OpStartTimer         = "task.timer_start"
	OpUpdateChecklist    = "task.update_checklist"
	OpUpdateTask         = "task.update"
	OpDeleteTask         = "task.delete"
)

// Actor is the authenticated caller as resolved by the transport layer.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) Admin() bool { return a.Role == domain.RoleAdmin }

// ForbiddenError indicates the actor failed the policy check for an operation.
type ForbiddenError struct {
	Op     string
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s forbidden: %s", e.Op, e.Reason)
}

// Authorize returns nil when actor may perform op on task, or a
// ForbiddenError naming the failed requirement.
func Authorize(actor Actor, task domain.Task, op string) error {
	switch op {
	case OpSubmitReview:
		if task.HasAssignee(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only assignees may submit for review"}
	case OpProcessReview:
		if task.HasReviewer(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only reviewers may process reviews"}
	case OpFinalApprove:
		if actor.ID == task.CreatedBy {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only the task creator may give final approval"}
	case OpDirectStatusUpdate:
		if actor.Admin() || actor.ID == task.CreatedBy || task.HasReviewer(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "requires admin, creator or reviewer"}
	case OpDirectApprove:
		// Reviewers may steer intermediate states but not force the terminal one.
		if actor.Admin() || actor.ID == task.CreatedBy {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only admin or creator may set approved directly"}
	case OpDelegateReview:
		if task.HasReviewer(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only a current reviewer may delegate"}
	case OpNudge:
		if actor.Admin() || task.HasReviewer(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "requires admin or reviewer"}
	case OpStartTimer:
		if actor.Admin() || task.HasAssignee(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only assignees may track time"}
	case OpUpdateChecklist:
		if actor.Admin() || task.HasAssignee(actor.ID) {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "only assignees may update the checklist"}
	case OpUpdateTask:
		if actor.Admin() || actor.ID == task.CreatedBy {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "requires admin or creator"}
	case OpDeleteTask:
		if actor.Admin() {
			return nil
		}
		return ForbiddenError{Op: op, Reason: "requires admin"}
	default:
		return ForbiddenError{Op: op, Reason: "unknown operation"}
	}
}

// AuthorizeTimeLog checks stop/read access to an individual time log, which is
// owned by its user rather than governed by task membership.
func AuthorizeTimeLog(actor Actor, log domain.TimeLog) error {
	if actor.Admin() || actor.ID == log.UserID {
		return nil
	}
	return ForbiddenError{Op: "task.timer_stop", Reason: "only the log owner may stop it"}
}
