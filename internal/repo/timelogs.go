package repo

import (
	"context"
	"database/sql"

	"taskdeck/internal/domain"
)

func (r Repo) InsertTimeLog(ctx context.Context, tx *sql.Tx, l domain.TimeLog) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO time_logs(id,task_id,user_id,start_time,end_time,duration_ms) VALUES (?,?,?,?,?,?)`,
		l.ID, l.TaskID, l.UserID, l.StartTime, nullableStringPtr(l.EndTime), l.DurationMS)
	return err
}

func (r Repo) UpdateTimeLog(ctx context.Context, tx *sql.Tx, l domain.TimeLog) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE time_logs SET end_time=?, duration_ms=? WHERE id=?`,
		nullableStringPtr(l.EndTime), l.DurationMS, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTimeLog(ctx context.Context, id string) (domain.TimeLog, error) {
	return scanTimeLog(r.DB.QueryRowContext(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_ms FROM time_logs WHERE id=?`, id))
}

// OpenTimeLog returns the running log for a (task,user) pair, or ErrNotFound.
func (r Repo) OpenTimeLog(ctx context.Context, tx *sql.Tx, taskID, userID string) (domain.TimeLog, error) {
	return scanTimeLog(r.on(tx).QueryRowContext(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_ms FROM time_logs WHERE task_id=? AND user_id=? AND end_time IS NULL`, taskID, userID))
}

func scanTimeLog(row *sql.Row) (domain.TimeLog, error) {
	var l domain.TimeLog
	var endTime sql.NullString
	err := row.Scan(&l.ID, &l.TaskID, &l.UserID, &l.StartTime, &endTime, &l.DurationMS)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if endTime.Valid {
		l.EndTime = &endTime.String
	}
	return l, err
}

func (r Repo) ListTimeLogs(ctx context.Context, taskID string) ([]domain.TimeLog, error) {
	return r.queryTimeLogs(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_ms FROM time_logs WHERE task_id=? ORDER BY start_time`, taskID)
}

// ListOpenTimeLogs returns all running logs, optionally scoped to one user.
func (r Repo) ListOpenTimeLogs(ctx context.Context, userID string) ([]domain.TimeLog, error) {
	if userID != "" {
		return r.queryTimeLogs(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_ms FROM time_logs WHERE end_time IS NULL AND user_id=? ORDER BY start_time`, userID)
	}
	return r.queryTimeLogs(ctx, `SELECT id,task_id,user_id,start_time,end_time,duration_ms FROM time_logs WHERE end_time IS NULL ORDER BY start_time`)
}

func (r Repo) queryTimeLogs(ctx context.Context, query string, args ...any) ([]domain.TimeLog, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeLog
	for rows.Next() {
		var l domain.TimeLog
		var endTime sql.NullString
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID, &l.StartTime, &endTime, &l.DurationMS); err != nil {
			return nil, err
		}
		if endTime.Valid {
			l.EndTime = &endTime.String
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// TaskTimeTotal sums closed-log durations for a task. Running logs contribute
// zero until stopped.
func (r Repo) TaskTimeTotal(ctx context.Context, taskID string) (int64, error) {
	var total sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(duration_ms) FROM time_logs WHERE task_id=? AND end_time IS NOT NULL`, taskID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
