package domain

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Review pipeline statuses.
const (
	ReviewNotSubmitted         = "not_submitted"
	ReviewPending              = "pending_review"
	ReviewPendingFinalApproval = "pending_final_approval"
	ReviewApproved             = "approved"
	ReviewChangesRequested     = "changes_requested"
)

// Review decisions.
const (
	DecisionApproved         = "approved"
	DecisionChangesRequested = "changes_requested"
)

// User roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"admin,member"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type RevisionEntry struct {
	Comment   string `json:"comment"`
	MadeBy    string `json:"made_by"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Remark struct {
	Text      string `json:"text"`
	MadeBy    string `json:"made_by"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type Task struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Priority        *int            `json:"priority,omitempty"`
	DueDate         *string         `json:"due_date,omitempty" format:"date-time"`
	Status          string          `json:"status" enum:"pending,in_progress,completed"`
	ReviewStatus    string          `json:"review_status" enum:"not_submitted,pending_review,pending_final_approval,approved,changes_requested"`
	CreatedBy       string          `json:"created_by"`
	AssignedTo      []string        `json:"assigned_to,omitempty"`
	Reviewers       []string        `json:"reviewers,omitempty"`
	TodoChecklist   []ChecklistItem `json:"todo_checklist,omitempty"`
	Progress        int             `json:"progress"`
	RevisionCount   int             `json:"revision_count"`
	RevisionHistory []RevisionEntry `json:"revision_history,omitempty"`
	Remarks         []Remark        `json:"remarks,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"`
	LastNudgedAt    *string         `json:"last_nudged_at,omitempty" format:"date-time"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
}

// HasAssignee reports whether userID is one of the task's doers.
func (t Task) HasAssignee(userID string) bool {
	return contains(t.AssignedTo, userID)
}

// HasReviewer reports whether userID holds first-line approval authority.
func (t Task) HasReviewer(userID string) bool {
	return contains(t.Reviewers, userID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type TimeLog struct {
	ID         string  `json:"id"`
	TaskID     string  `json:"task_id"`
	UserID     string  `json:"user_id"`
	StartTime  string  `json:"start_time" format:"date-time"`
	EndTime    *string `json:"end_time,omitempty" format:"date-time"`
	DurationMS int64   `json:"duration_ms"`
}

// Running reports whether the log is still open.
func (l TimeLog) Running() bool { return l.EndTime == nil }

type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
