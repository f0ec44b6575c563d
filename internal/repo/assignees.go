package repo

import (
	"context"
	"database/sql"
)

// AddAssignee puts an engineer in a task's assigned set. Adding an existing
// member is a no-op; the return value reports whether the set grew.
func (r Repo) AddAssignee(ctx context.Context, tx *sql.Tx, taskID, engineerID, addedAt string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id, engineer_id, added_at) VALUES (?,?,?)`, taskID, engineerID, addedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListAssignees returns engineer ids in the order they joined the task.
// Rejected engineers stay in the table but are not listed.
func (r Repo) ListAssignees(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT ta.engineer_id FROM task_assignees ta JOIN accounts a ON a.id = ta.engineer_id AND a.approval_state != 'REJECTED' WHERE ta.task_id=? ORDER BY ta.rowid ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r Repo) AssigneesForTasks(ctx context.Context, taskIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(taskIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT ta.task_id, ta.engineer_id FROM task_assignees ta JOIN accounts a ON a.id = ta.engineer_id AND a.approval_state != 'REJECTED' WHERE ta.task_id IN (`+placeholders(len(taskIDs))+`) ORDER BY ta.rowid ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, engineerID string
		if err := rows.Scan(&taskID, &engineerID); err != nil {
			return nil, err
		}
		out[taskID] = append(out[taskID], engineerID)
	}
	return out, rows.Err()
}
