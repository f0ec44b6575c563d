package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"appbee/internal/domain"
)

const taskColumns = `id,company_id,title,COALESCE(description,''),price,difficulty,status,created_at,updated_at,approved_at`

type TaskFilters struct {
	CompanyID       string
	Status          domain.TaskStatus
	CursorCreatedAt string
	CursorID        string
	Limit           int
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var approvedAt sql.NullString
	err := row.Scan(&t.ID, &t.CompanyID, &t.Title, &t.Description, &t.Price, &t.Difficulty, &t.Status, &t.CreatedAt, &t.UpdatedAt, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ApprovedAt = stringPtr(approvedAt)
	t.AssignedEngineers = []string{}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO tasks(id,company_id,title,description,price,difficulty,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CompanyID, t.Title, nullable(t.Description), t.Price, string(t.Difficulty), string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask loads a task with its assigned engineers.
func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.on(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	assignees, err := r.ListAssignees(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	t.AssignedEngineers = assignees
	return t, nil
}

// UpdateTaskFields writes the mutable descriptive fields. Status is never
// written here.
func (r Repo) UpdateTaskFields(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, price=?, difficulty=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Price, string(t.Difficulty), t.UpdatedAt, t.ID)
	return err
}

// AdvanceTaskStatus moves a task to status only when its current status is
// one of from. It reports whether the row changed.
func (r Repo) AdvanceTaskStatus(ctx context.Context, tx *sql.Tx, id string, to domain.TaskStatus, updatedAt string, from ...domain.TaskStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("advance task status: no source states")
	}
	args := []any{string(to), updatedAt}
	if to == domain.TaskApproved {
		args = append(args, updatedAt)
	} else {
		args = append(args, nil)
	}
	args = append(args, id)
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := r.on(tx).ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=?, approved_at=COALESCE(approved_at, ?) WHERE id=? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListTasks returns tasks newest first with keyset pagination.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.CompanyID != "" {
		clauses = append(clauses, "company_id=?")
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	ids := make([]string, len(res))
	for i, t := range res {
		ids[i] = t.ID
	}
	byTask, err := r.AssigneesForTasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if a, ok := byTask[res[i].ID]; ok {
			res[i].AssignedEngineers = a
		}
	}
	return res, nil
}
