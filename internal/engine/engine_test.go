package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/domain"
	"taskdeck/internal/engine"
	"taskdeck/internal/engine/policy"
	"taskdeck/internal/events"
	"taskdeck/internal/migrate"
)

var (
	root  = policy.Actor{ID: "root", Role: domain.RoleAdmin}
	alice = policy.Actor{ID: "alice", Role: domain.RoleMember}
	bob   = policy.Actor{ID: "bob", Role: domain.RoleMember}
	carol = policy.Actor{ID: "carol", Role: domain.RoleMember}
	dave  = policy.Actor{ID: "dave", Role: domain.RoleMember}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	for _, a := range []policy.Actor{root, alice, bob, carol, dave} {
		u := domain.User{ID: a.ID, Name: a.ID, Email: a.ID + "@example.com", Role: a.Role, CreatedAt: "2024-01-01T00:00:00Z"}
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", a.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, clock: &clock}
}

// newTask creates the standard fixture: alice creates, bob implements,
// carol reviews.
func newTask(t *testing.T, env testEnv, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Build the widget"
	}
	if opts.Actor.ID == "" {
		opts.Actor = alice
	}
	if opts.AssignedTo == nil {
		opts.AssignedTo = []string{bob.ID}
	}
	if opts.Reviewers == nil {
		opts.Reviewers = []string{carol.ID}
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestReviewApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	task, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.ReviewStatus != domain.ReviewPending {
		t.Fatalf("after submit: status=%s review=%s", task.Status, task.ReviewStatus)
	}

	task, err = env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionApproved, "lgtm")
	if err != nil {
		t.Fatalf("process review: %v", err)
	}
	if task.ReviewStatus != domain.ReviewPendingFinalApproval {
		t.Fatalf("after review: review=%s", task.ReviewStatus)
	}

	task, err = env.Engine.FinalApprove(env.Ctx, task.ID, alice, domain.DecisionApproved, "")
	if err != nil {
		t.Fatalf("final approve: %v", err)
	}
	if task.ReviewStatus != domain.ReviewApproved || task.Status != domain.StatusCompleted {
		t.Fatalf("after final: status=%s review=%s", task.Status, task.ReviewStatus)
	}
	if task.RevisionCount != 0 {
		t.Fatalf("revision count = %d, want 0", task.RevisionCount)
	}
}

func TestSelfReviewShortcut(t *testing.T) {
	env := newTestEnv(t)
	// carol created the task and also reviews it; her approval is terminal.
	task := newTask(t, env, engine.TaskCreateOptions{Actor: carol, Reviewers: []string{carol.ID}})

	task, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err = env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionApproved, "")
	if err != nil {
		t.Fatalf("process review: %v", err)
	}
	if task.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("self review should approve terminally, got %s", task.ReviewStatus)
	}
}

func TestChangesRequestedRevisionCount(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionChangesRequested, "needs tests")
	if err != nil {
		t.Fatalf("request changes: %v", err)
	}
	if task.RevisionCount != 1 || len(task.RevisionHistory) != 1 {
		t.Fatalf("revision count = %d history = %d, want 1/1", task.RevisionCount, len(task.RevisionHistory))
	}
	if task.Status != domain.StatusPending || task.ReviewStatus != domain.ReviewChangesRequested {
		t.Fatalf("after changes: status=%s review=%s", task.Status, task.ReviewStatus)
	}

	// A repeated identical decision must not inflate the count.
	task, err = env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionChangesRequested, "still needs tests")
	if err != nil {
		t.Fatalf("repeat changes: %v", err)
	}
	if task.RevisionCount != 1 {
		t.Fatalf("repeat decision bumped count to %d", task.RevisionCount)
	}

	// A fresh round trip counts again.
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	task, err = env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionChangesRequested, "round two")
	if err != nil {
		t.Fatal(err)
	}
	if task.RevisionCount != 2 {
		t.Fatalf("revision count = %d, want 2", task.RevisionCount)
	}
}

func TestChangesRequestedRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionChangesRequested, "")
	if !errors.Is(err, engine.ErrMissingComment) {
		t.Fatalf("err = %v, want ErrMissingComment", err)
	}
}

func TestSubmitGuards(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	// Non-assignees cannot submit.
	var fe policy.ForbiddenError
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, carol); !errors.As(err, &fe) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}

	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	// Double submit is an invalid transition.
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestApproveTwice(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionApproved, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.FinalApprove(env.Ctx, task.ID, alice, domain.DecisionApproved, ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.FinalApprove(env.Ctx, task.ID, alice, domain.DecisionApproved, "")
	if !errors.Is(err, engine.ErrAlreadyApproved) {
		t.Fatalf("err = %v, want ErrAlreadyApproved", err)
	}
}

func TestRevertedStatusFollowsChecklist(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{
		Checklist: []domain.ChecklistItem{
			{Text: "write code", Completed: true},
			{Text: "write docs"},
		},
	})
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}
	task, err := env.Engine.ProcessReview(env.Ctx, task.ID, carol, domain.DecisionChangesRequested, "docs missing")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress with partial checklist", task.Status)
	}
}

func TestDirectStatusUpdate(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	task, err := env.Engine.DirectStatusUpdate(env.Ctx, task.ID, root, domain.ReviewPending)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusCompleted || task.ReviewStatus != domain.ReviewPending {
		t.Fatalf("forced pending_review: status=%s review=%s", task.Status, task.ReviewStatus)
	}

	// Reviewers may force intermediate states but not the terminal one.
	var fe policy.ForbiddenError
	if _, err := env.Engine.DirectStatusUpdate(env.Ctx, task.ID, carol, domain.ReviewApproved); !errors.As(err, &fe) {
		t.Fatalf("err = %v, want ForbiddenError", err)
	}
	if task, err = env.Engine.DirectStatusUpdate(env.Ctx, task.ID, alice, domain.ReviewApproved); err != nil {
		t.Fatalf("creator direct approve: %v", err)
	}
	if task.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("review = %s, want approved", task.ReviewStatus)
	}

	if _, err := env.Engine.DirectStatusUpdate(env.Ctx, task.ID, root, "bogus"); !errors.Is(err, engine.ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestDependencyGate(t *testing.T) {
	env := newTestEnv(t)
	dep := newTask(t, env, engine.TaskCreateOptions{Title: "Set up schema"})
	task := newTask(t, env, engine.TaskCreateOptions{Dependencies: []string{dep.ID}})

	var be engine.BlockedByDependencyError
	_, err := env.Engine.DirectStatusUpdate(env.Ctx, task.ID, root, domain.StatusInProgress)
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BlockedByDependencyError", err)
	}
	if len(be.Titles) != 1 || be.Titles[0] != "Set up schema" {
		t.Fatalf("blocking titles = %v", be.Titles)
	}

	// Checklist-derived forward progress hits the same gate.
	_, err = env.Engine.UpdateChecklist(env.Ctx, task.ID, bob, []domain.ChecklistItem{{Text: "a", Completed: true}})
	if !errors.As(err, &be) {
		t.Fatalf("checklist err = %v, want BlockedByDependencyError", err)
	}

	if _, err := env.Engine.DirectStatusUpdate(env.Ctx, dep.ID, root, domain.ReviewApproved); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DirectStatusUpdate(env.Ctx, task.ID, root, domain.StatusInProgress); err != nil {
		t.Fatalf("after completing dep: %v", err)
	}
}

func TestChecklistDerivation(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	task, err := env.Engine.UpdateChecklist(env.Ctx, task.ID, bob, []domain.ChecklistItem{
		{Text: "one", Completed: true},
		{Text: "two"},
		{Text: "three"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Progress != 33 || task.Status != domain.StatusInProgress {
		t.Fatalf("progress=%d status=%s, want 33/in_progress", task.Progress, task.Status)
	}

	task, err = env.Engine.UpdateChecklist(env.Ctx, task.ID, bob, []domain.ChecklistItem{
		{Text: "one", Completed: true},
		{Text: "two", Completed: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Progress != 100 || task.Status != domain.StatusCompleted {
		t.Fatalf("progress=%d status=%s, want 100/completed", task.Progress, task.Status)
	}

	task, err = env.Engine.UpdateChecklist(env.Ctx, task.ID, bob, nil)
	if err != nil {
		t.Fatal(err)
	}
	if task.Progress != 0 || task.Status != domain.StatusPending {
		t.Fatalf("progress=%d status=%s, want 0/pending", task.Progress, task.Status)
	}
}

func TestDelegateReview(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	// Delegation outside pending_review is rejected before the policy check.
	if _, err := env.Engine.DelegateReview(env.Ctx, task.ID, carol, dave.ID); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatal(err)
	}

	var fe policy.ForbiddenError
	if _, err := env.Engine.DelegateReview(env.Ctx, task.ID, bob, dave.ID); !errors.As(err, &fe) {
		t.Fatalf("non-reviewer delegate err = %v, want ForbiddenError", err)
	}
	if _, err := env.Engine.DelegateReview(env.Ctx, task.ID, carol, "ghost"); err == nil {
		t.Fatal("delegation to unknown user should fail")
	}

	task, err := env.Engine.DelegateReview(env.Ctx, task.ID, carol, dave.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.HasReviewer(carol.ID) || !task.HasReviewer(dave.ID) {
		t.Fatalf("reviewers = %v, want carol replaced by dave", task.Reviewers)
	}
	if len(task.Remarks) == 0 {
		t.Fatal("expected an audit remark")
	}

	// dave can now act as the reviewer.
	if _, err := env.Engine.ProcessReview(env.Ctx, task.ID, dave, domain.DecisionApproved, ""); err != nil {
		t.Fatalf("delegated reviewer review: %v", err)
	}
}

func TestBatchProcessReviews(t *testing.T) {
	env := newTestEnv(t)
	reviewable := newTask(t, env, engine.TaskCreateOptions{Title: "a"})
	notSubmitted := newTask(t, env, engine.TaskCreateOptions{Title: "b"})
	foreign := newTask(t, env, engine.TaskCreateOptions{Title: "c", Reviewers: []string{dave.ID}})
	if _, err := env.Engine.SubmitForReview(env.Ctx, reviewable.ID, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, foreign.ID, bob); err != nil {
		t.Fatal(err)
	}

	ids := []string{reviewable.ID, notSubmitted.ID, foreign.ID, "missing"}
	res, err := env.Engine.BatchProcessReviews(env.Ctx, ids, carol, domain.DecisionApproved, "")
	if err != nil {
		t.Fatal(err)
	}
	// notSubmitted is still reviewable by carol (approve from not_submitted
	// advances it), foreign and missing are skipped silently.
	if res.Processed != 2 {
		t.Fatalf("processed = %d (%v), want 2", res.Processed, res.TaskIDs)
	}

	if _, err := env.Engine.BatchProcessReviews(env.Ctx, ids, carol, "maybe", ""); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := env.Engine.BatchProcessReviews(env.Ctx, ids, carol, domain.DecisionChangesRequested, ""); !errors.Is(err, engine.ErrMissingComment) {
		t.Fatalf("err = %v, want ErrMissingComment", err)
	}
}

func TestTimerLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	l, err := env.Engine.StartTimer(env.Ctx, task.ID, bob)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !l.Running() {
		t.Fatal("fresh log should be running")
	}
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, bob); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}

	env.advance(90 * time.Minute)

	var fe policy.ForbiddenError
	if _, err := env.Engine.StopTimer(env.Ctx, l.ID, task.ID, carol); !errors.As(err, &fe) {
		t.Fatalf("foreign stop err = %v, want ForbiddenError", err)
	}

	stopped, err := env.Engine.StopTimer(env.Ctx, l.ID, task.ID, bob)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if want := int64(90 * 60 * 1000); stopped.DurationMS != want {
		t.Fatalf("duration = %d, want %d", stopped.DurationMS, want)
	}
	if _, err := env.Engine.StopTimer(env.Ctx, l.ID, task.ID, bob); !errors.Is(err, engine.ErrAlreadyStopped) {
		t.Fatalf("double stop err = %v, want ErrAlreadyStopped", err)
	}

	total, err := env.Engine.TaskTimeTotal(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != stopped.DurationMS {
		t.Fatalf("total = %d, want %d", total, stopped.DurationMS)
	}

	// A second user can run a timer on the same task concurrently.
	if _, err := env.Engine.StartTimer(env.Ctx, task.ID, root); err != nil {
		t.Fatalf("admin start: %v", err)
	}
	open, err := env.Engine.ActiveTimers(env.Ctx, root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("active timers = %d, want 1", len(open))
	}
	// Running logs do not count toward the total.
	total, err = env.Engine.TaskTimeTotal(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != stopped.DurationMS {
		t.Fatalf("total with open log = %d, want %d", total, stopped.DurationMS)
	}
}

type failingDispatcher struct{}

func (failingDispatcher) Notify(ctx context.Context, recipientID, message, link string) error {
	return errors.New("dispatch down")
}

func TestNotifyFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Notify = failingDispatcher{}

	task := newTask(t, env, engine.TaskCreateOptions{})
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, bob); err != nil {
		t.Fatalf("submit with failing dispatcher: %v", err)
	}
	if _, err := env.Engine.NudgeTask(env.Ctx, task.ID, carol); err != nil {
		t.Fatalf("nudge with failing dispatcher: %v", err)
	}
}

func TestAuditEventsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	env.advance(42 * time.Minute)
	task := newTask(t, env, engine.TaskCreateOptions{})

	recorded, err := events.List(env.Ctx, env.Engine.DB, 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("events = %d, want 1", len(recorded))
	}
	evt := recorded[0]
	if evt.Type != "task.created" || evt.EntityID != task.ID {
		t.Fatalf("unexpected event %s/%s", evt.Type, evt.EntityID)
	}
	if evt.TS != task.CreatedAt {
		t.Fatalf("event ts %s, task created_at %s", evt.TS, task.CreatedAt)
	}
	if evt.TS != "2024-01-01T00:42:00Z" {
		t.Fatalf("event ts %s, want clock time", evt.TS)
	}
}

func TestStopTimerSubSecondClock(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	env.advance(300 * time.Millisecond)
	log, err := env.Engine.StartTimer(env.Ctx, task.ID, bob)
	if err != nil {
		t.Fatalf("start timer: %v", err)
	}

	env.advance(90*time.Minute + 400*time.Millisecond)
	stopped, err := env.Engine.StopTimer(env.Ctx, log.ID, task.ID, bob)
	if err != nil {
		t.Fatalf("stop timer: %v", err)
	}

	start, err := time.Parse(time.RFC3339, stopped.StartTime)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	end, err := time.Parse(time.RFC3339, *stopped.EndTime)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	if want := end.Sub(start).Milliseconds(); stopped.DurationMS != want {
		t.Fatalf("duration %d ms, want %d (end-start)", stopped.DurationMS, want)
	}
	if stopped.DurationMS != 90*60*1000 {
		t.Fatalf("duration %d ms, want 5400000", stopped.DurationMS)
	}
}

func TestStopTimerWrongTask(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})
	other := newTask(t, env, engine.TaskCreateOptions{Title: "other"})
	l, err := env.Engine.StartTimer(env.Ctx, task.ID, bob)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StopTimer(env.Ctx, l.ID, other.ID, bob); err == nil {
		t.Fatal("stop against the wrong task should fail")
	}
}

func TestNudgeRateLimit(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	task, err := env.Engine.NudgeTask(env.Ctx, task.ID, carol)
	if err != nil {
		t.Fatalf("first nudge: %v", err)
	}
	if task.LastNudgedAt == nil {
		t.Fatal("LastNudgedAt not set")
	}

	env.advance(60 * time.Minute)
	var rle engine.RateLimitedError
	_, err = env.Engine.NudgeTask(env.Ctx, task.ID, carol)
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rle.Minutes() != 180 {
		t.Fatalf("minutes remaining = %d, want 180", rle.Minutes())
	}

	env.advance(181 * time.Minute)
	if _, err := env.Engine.NudgeTask(env.Ctx, task.ID, carol); err != nil {
		t.Fatalf("nudge after window: %v", err)
	}
}

func TestNudgeNoEligibleRecipients(t *testing.T) {
	env := newTestEnv(t)
	// carol is both the sole assignee and the reviewer; nudging herself has
	// nobody left to notify and must not consume the window.
	task := newTask(t, env, engine.TaskCreateOptions{AssignedTo: []string{carol.ID}, Reviewers: []string{carol.ID}})

	_, err := env.Engine.NudgeTask(env.Ctx, task.ID, carol)
	if !errors.Is(err, engine.ErrNoEligibleRecipients) {
		t.Fatalf("err = %v, want ErrNoEligibleRecipients", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastNudgedAt != nil {
		t.Fatal("failed nudge must not set LastNudgedAt")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Actor: alice}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("missing title err = %v, want ErrInvalidInput", err)
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Actor: alice, Dependencies: []string{"missing"}})
	if err == nil {
		t.Fatal("unknown dependency should fail")
	}
}

func TestUpdateAndDeletePolicy(t *testing.T) {
	env := newTestEnv(t)
	task := newTask(t, env, engine.TaskCreateOptions{})

	var fe policy.ForbiddenError
	title := "renamed"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &title, Actor: bob}); !errors.As(err, &fe) {
		t.Fatalf("assignee update err = %v, want ForbiddenError", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Title: &title, Actor: alice}); err != nil {
		t.Fatalf("creator update: %v", err)
	}

	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID: task.ID, Actor: alice, DepsSet: true, SetDeps: []string{task.ID},
	}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("self-dependency err = %v, want ErrInvalidInput", err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, task.ID, alice); !errors.As(err, &fe) {
		t.Fatalf("non-admin delete err = %v, want ForbiddenError", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, root); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}
