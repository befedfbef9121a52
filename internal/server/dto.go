package server

import (
	"taskdeck/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	ID           *string                `json:"id,omitempty"`
	Title        string                 `json:"title"`
	Description  *string                `json:"description,omitempty"`
	Priority     *int                   `json:"priority,omitempty"`
	DueDate      *string                `json:"due_date,omitempty" format:"date-time"`
	AssignedTo   []string               `json:"assigned_to,omitempty"`
	Reviewers    []string               `json:"reviewers,omitempty"`
	Checklist    []domain.ChecklistItem `json:"todo_checklist,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

type UpdateTaskRequest struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	DueDate      *string  `json:"due_date,omitempty" format:"date-time"`
	AssignedTo   []string `json:"assigned_to,omitempty"`
	Reviewers    []string `json:"reviewers,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

type ReviewDecisionRequest struct {
	Decision      string `json:"decision" enum:"approved,changes_requested"`
	ReviewComment string `json:"review_comment,omitempty"`
}

type DirectStatusUpdateRequest struct {
	NewStatus string `json:"new_status"`
}

type DelegateReviewRequest struct {
	NewReviewerID string `json:"new_reviewer_id"`
}

type BatchReviewRequest struct {
	TaskIDs       []string `json:"task_ids"`
	Decision      string   `json:"decision" enum:"approved,changes_requested"`
	ReviewComment string   `json:"review_comment,omitempty"`
}

type ChecklistUpdateRequest struct {
	TodoChecklist []domain.ChecklistItem `json:"todo_checklist"`
}

type CreateUserRequest struct {
	ID    *string `json:"id,omitempty"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Role  string  `json:"role,omitempty" enum:"admin,member"`
}

// Response payloads

type BatchReviewResponse struct {
	Processed int      `json:"processed"`
	TaskIDs   []string `json:"task_ids,omitempty"`
}

type TaskTimeResponse struct {
	TaskID     string `json:"task_id"`
	DurationMS int64  `json:"duration_ms"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
