package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskdeck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	q := r.on(tx)
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(id,title,description,priority,due_date,status,review_status,created_by,progress,revision_count,last_nudged_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), nullableIntPtr(t.Priority), nullableStringPtr(t.DueDate),
		t.Status, t.ReviewStatus, t.CreatedBy, t.Progress, t.RevisionCount,
		nullableStringPtr(t.LastNudgedAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	if err := replaceMembers(ctx, q, "task_assignees", t.ID, t.AssignedTo); err != nil {
		return err
	}
	if err := replaceMembers(ctx, q, "task_reviewers", t.ID, t.Reviewers); err != nil {
		return err
	}
	if err := r.ReplaceDependencies(ctx, tx, t.ID, t.Dependencies); err != nil {
		return err
	}
	return r.ReplaceChecklist(ctx, tx, t.ID, t.TodoChecklist)
}

// UpdateTask persists scalar task fields plus membership sets. Checklist,
// revisions and remarks are appended through their own methods.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	q := r.on(tx)
	res, err := q.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, due_date=?, status=?, review_status=?, progress=?, revision_count=?, last_nudged_at=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullableIntPtr(t.Priority), nullableStringPtr(t.DueDate),
		t.Status, t.ReviewStatus, t.Progress, t.RevisionCount,
		nullableStringPtr(t.LastNudgedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := replaceMembers(ctx, q, "task_assignees", t.ID, t.AssignedTo); err != nil {
		return err
	}
	return replaceMembers(ctx, q, "task_reviewers", t.ID, t.Reviewers)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) getTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	q := r.on(tx)
	var t domain.Task
	var description, dueDate, lastNudged sql.NullString
	var priority sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT id,title,description,priority,due_date,status,review_status,created_by,progress,revision_count,last_nudged_at,created_at,updated_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.Title, &description, &priority, &dueDate, &t.Status, &t.ReviewStatus, &t.CreatedBy, &t.Progress, &t.RevisionCount, &lastNudged, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if lastNudged.Valid {
		t.LastNudgedAt = &lastNudged.String
	}
	return t, r.hydrateTask(ctx, q, &t)
}

func (r Repo) hydrateTask(ctx context.Context, q execer, t *domain.Task) error {
	var err error
	if t.AssignedTo, err = listMembers(ctx, q, "task_assignees", t.ID); err != nil {
		return err
	}
	if t.Reviewers, err = listMembers(ctx, q, "task_reviewers", t.ID); err != nil {
		return err
	}
	if t.Dependencies, err = listDependencies(ctx, q, t.ID); err != nil {
		return err
	}
	if t.TodoChecklist, err = listChecklist(ctx, q, t.ID); err != nil {
		return err
	}
	if t.RevisionHistory, err = listRevisions(ctx, q, t.ID); err != nil {
		return err
	}
	t.Remarks, err = listRemarks(ctx, q, t.ID)
	return err
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status          string
	ReviewStatus    string
	AssigneeID      string
	ReviewerID      string
	CreatedBy       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ReviewStatus != "" {
		clauses = append(clauses, "review_status=?")
		args = append(args, f.ReviewStatus)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_assignees WHERE user_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.ReviewerID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_reviewers WHERE user_id=?)")
		args = append(args, f.ReviewerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,title,description,priority,due_date,status,review_status,created_by,progress,revision_count,last_nudged_at,created_at,updated_at FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var description, dueDate, lastNudged sql.NullString
		var priority sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Title, &description, &priority, &dueDate, &t.Status, &t.ReviewStatus, &t.CreatedBy, &t.Progress, &t.RevisionCount, &lastNudged, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			t.Description = description.String
		}
		if priority.Valid {
			p := int(priority.Int64)
			t.Priority = &p
		}
		if dueDate.Valid {
			t.DueDate = &dueDate.String
		}
		if lastNudged.Valid {
			t.LastNudgedAt = &lastNudged.String
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.hydrateTask(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListTasksByReviewState returns tasks in the given review status older than
// the cutoff, used by the reminder sweeper.
func (r Repo) ListTasksByReviewState(ctx context.Context, reviewStatus, updatedBefore string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE review_status=? AND updated_at < ?`, reviewStatus, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var res []domain.Task
	for _, id := range ids {
		t, err := r.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) ReplaceDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	q := r.on(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies(task_id,depends_on) VALUES (?,?)`, taskID, d); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ReplaceChecklist(ctx context.Context, tx *sql.Tx, taskID string, items []domain.ChecklistItem) error {
	q := r.on(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM task_checklist WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, item := range items {
		if _, err := q.ExecContext(ctx, `INSERT INTO task_checklist(task_id,position,text,completed) VALUES (?,?,?,?)`, taskID, i, item.Text, item.Completed); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) AppendRevision(ctx context.Context, tx *sql.Tx, taskID string, rev domain.RevisionEntry) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO task_revisions(task_id,comment,made_by,ts) VALUES (?,?,?,?)`,
		taskID, rev.Comment, rev.MadeBy, rev.Timestamp)
	return err
}

func (r Repo) AppendRemark(ctx context.Context, tx *sql.Tx, taskID string, rem domain.Remark) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO task_remarks(task_id,text,made_by,ts) VALUES (?,?,?,?)`,
		taskID, rem.Text, rem.MadeBy, rem.Timestamp)
	return err
}

func replaceMembers(ctx context.Context, q execer, table, taskID string, userIDs []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+`(task_id,user_id) VALUES (?,?)`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

func listMembers(ctx context.Context, q execer, table, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM `+table+` WHERE task_id=? ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func listDependencies(ctx context.Context, q execer, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT depends_on FROM task_dependencies WHERE task_id=? ORDER BY depends_on`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func listChecklist(ctx context.Context, q execer, taskID string) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT text,completed FROM task_checklist WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ChecklistItem
	for rows.Next() {
		var item domain.ChecklistItem
		if err := rows.Scan(&item.Text, &item.Completed); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func listRevisions(ctx context.Context, q execer, taskID string) ([]domain.RevisionEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT comment,made_by,ts FROM task_revisions WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revs []domain.RevisionEntry
	for rows.Next() {
		var rev domain.RevisionEntry
		if err := rows.Scan(&rev.Comment, &rev.MadeBy, &rev.Timestamp); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func listRemarks(ctx context.Context, q execer, taskID string) ([]domain.Remark, error) {
	rows, err := q.QueryContext(ctx, `SELECT text,made_by,ts FROM task_remarks WHERE task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rems []domain.Remark
	for rows.Next() {
		var rem domain.Remark
		if err := rows.Scan(&rem.Text, &rem.MadeBy, &rem.Timestamp); err != nil {
			return nil, err
		}
		rems = append(rems, rem)
	}
	return rems, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
