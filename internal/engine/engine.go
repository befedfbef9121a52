package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskdeck/internal/config"
	"taskdeck/internal/domain"
	"taskdeck/internal/engine/policy"
	"taskdeck/internal/events"
	"taskdeck/internal/notify"
	"taskdeck/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify notify.Dispatcher
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Notify: notify.Noop{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// audit returns an event writer sharing the engine clock, so event
// timestamps line up with the entity timestamps written in the same tx.
func (e Engine) audit() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// notify delivers best effort; a failed notification never fails the
// operation that produced it.
func (e Engine) notify(ctx context.Context, recipientID, message, link string) {
	if err := e.Notify.Notify(ctx, recipientID, message, link); err != nil {
		log.Printf("notify %s: %v", recipientID, err)
	}
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID           string
	Title        string
	Description  string
	Priority     *int
	DueDate      string
	AssignedTo   []string
	Reviewers    []string
	Checklist    []domain.ChecklistItem
	Dependencies []string
	Actor        policy.Actor
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	for _, dep := range opts.Dependencies {
		if _, err := e.Repo.GetTask(ctx, dep); err != nil {
			return domain.Task{}, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowString()
	t := domain.Task{
		ID:            id,
		Title:         opts.Title,
		Description:   opts.Description,
		Priority:      opts.Priority,
		Status:        domain.StatusPending,
		ReviewStatus:  domain.ReviewNotSubmitted,
		CreatedBy:     opts.Actor.ID,
		AssignedTo:    dedupe(opts.AssignedTo),
		Reviewers:     dedupe(opts.Reviewers),
		TodoChecklist: opts.Checklist,
		Dependencies:  dedupe(opts.Dependencies),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if opts.DueDate != "" {
		t.DueDate = &opts.DueDate
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.audit().Append(ctx, tx, "task.created", "task", t.ID, opts.Actor.ID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	for _, assignee := range t.AssignedTo {
		if assignee == opts.Actor.ID {
			continue
		}
		e.notify(ctx, assignee, fmt.Sprintf("You were assigned to task %q", t.Title), taskLink(t.ID))
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed thin-CRUD updates. Status and review
// state are driven through the review operations, not here.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Priority    *int
	DueDate     *string
	AssignedTo  []string
	Reviewers   []string
	SetDeps     []string
	DepsSet     bool
	Actor       policy.Actor
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	if err := policy.Authorize(opts.Actor, t, policy.OpUpdateTask); err != nil {
		return t, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return t, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		t.Priority = opts.Priority
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			t.DueDate = opts.DueDate
		}
	}
	if opts.AssignedTo != nil {
		t.AssignedTo = dedupe(opts.AssignedTo)
	}
	if opts.Reviewers != nil {
		t.Reviewers = dedupe(opts.Reviewers)
	}
	if opts.DepsSet {
		for _, dep := range opts.SetDeps {
			if dep == t.ID {
				return t, fmt.Errorf("%w: task cannot depend on itself", ErrInvalidInput)
			}
			if _, err := e.Repo.GetTask(ctx, dep); err != nil {
				return t, fmt.Errorf("dependency %s: %w", dep, err)
			}
		}
		t.Dependencies = dedupe(opts.SetDeps)
	}
	t.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if opts.DepsSet {
		if err := e.Repo.ReplaceDependencies(ctx, tx, t.ID, t.Dependencies); err != nil {
			return t, err
		}
	}
	if err := e.audit().Append(ctx, tx, "task.updated", "task", t.ID, opts.Actor.ID, events.EventPayload{"title": t.Title}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// DeleteTask removes a task outright. Admin only; no cascade beyond removal.
func (e Engine) DeleteTask(ctx context.Context, taskID string, actor policy.Actor) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, t, policy.OpDeleteTask); err != nil {
		return err
	}
	return e.Repo.DeleteTask(ctx, taskID)
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func taskLink(taskID string) string {
	return "/tasks/" + taskID
}
