package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"appbee/internal/domain"
)

const submissionColumns = `s.id,s.task_id,s.engineer_id,s.notes,s.attachment_url,s.claimed_at,s.submitted_at,s.approved,s.approved_at,s.xp_awarded`

func scanSubmission(row rowScanner, extra ...any) (domain.Submission, error) {
	var s domain.Submission
	var claimedAt, submittedAt, approvedAt sql.NullString
	dest := []any{&s.ID, &s.TaskID, &s.EngineerID, &s.Notes, &s.AttachmentURL, &claimedAt, &submittedAt, &s.Approved, &approvedAt, &s.XPAwarded}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.ClaimedAt = stringPtr(claimedAt)
	s.SubmittedAt = stringPtr(submittedAt)
	s.ApprovedAt = stringPtr(approvedAt)
	return s, nil
}

// EnsureClaimRecord creates the (task, engineer) row for a claim. An existing
// row, claimed or submitted, is left untouched.
func (r Repo) EnsureClaimRecord(ctx context.Context, tx *sql.Tx, id, taskID, engineerID, claimedAt string) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO submissions(id,task_id,engineer_id,claimed_at) VALUES (?,?,?,?)
ON CONFLICT(task_id, engineer_id) DO UPDATE SET claimed_at=COALESCE(submissions.claimed_at, excluded.claimed_at)`,
		id, taskID, engineerID, claimedAt)
	if err != nil {
		return fmt.Errorf("record claim: %w", err)
	}
	return nil
}

// UpsertSubmission writes the engineer's latest notes and link. The last
// writer wins; the row id and claim time are preserved.
func (r Repo) UpsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) (domain.Submission, error) {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO submissions(id,task_id,engineer_id,notes,attachment_url,submitted_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(task_id, engineer_id) DO UPDATE SET notes=excluded.notes, attachment_url=excluded.attachment_url, submitted_at=excluded.submitted_at`,
		s.ID, s.TaskID, s.EngineerID, s.Notes, s.AttachmentURL, nullableStringPtr(s.SubmittedAt))
	if err != nil {
		return s, fmt.Errorf("upsert submission: %w", err)
	}
	return r.GetSubmission(ctx, tx, s.TaskID, s.EngineerID)
}

func (r Repo) GetSubmission(ctx context.Context, tx *sql.Tx, taskID, engineerID string) (domain.Submission, error) {
	row := r.on(tx).QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions s WHERE s.task_id=? AND s.engineer_id=?`, taskID, engineerID)
	return scanSubmission(row)
}

// ListSubmissionViews returns the submissions for a task joined with the
// engineer's name and email, oldest first. Rows of rejected engineers are
// left out.
func (r Repo) ListSubmissionViews(ctx context.Context, taskID string) ([]domain.SubmissionView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+submissionColumns+`, a.full_name, a.email
FROM submissions s JOIN accounts a ON a.id = s.engineer_id AND a.approval_state != 'REJECTED'
WHERE s.task_id=? ORDER BY s.rowid ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.SubmissionView{}
	for rows.Next() {
		var v domain.SubmissionView
		s, err := scanSubmission(rows, &v.EngineerName, &v.EngineerEmail)
		if err != nil {
			return nil, err
		}
		v.Submission = s
		res = append(res, v)
	}
	return res, rows.Err()
}

// CreditableSubmissions returns not-yet-approved submissions whose engineer is
// in the task's assigned set and still approved.
func (r Repo) CreditableSubmissions(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Submission, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+submissionColumns+`
FROM submissions s
JOIN task_assignees ta ON ta.task_id = s.task_id AND ta.engineer_id = s.engineer_id
JOIN accounts a ON a.id = s.engineer_id AND a.approval_state = 'APPROVED'
WHERE s.task_id=? AND s.approved=0 ORDER BY ta.rowid ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) MarkSubmissionApproved(ctx context.Context, tx *sql.Tx, id string, xp int64, approvedAt string) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE submissions SET approved=1, approved_at=?, xp_awarded=? WHERE id=? AND approved=0`, approvedAt, xp, id)
	return err
}

// EngineerWork reports, per task, whether the engineer has a claim or a
// delivered submission.
type EngineerWork struct {
	Claimed   bool
	Submitted bool
}

func (r Repo) EngineerWorkForTasks(ctx context.Context, engineerID string, taskIDs []string) (map[string]EngineerWork, error) {
	out := map[string]EngineerWork{}
	if engineerID == "" || len(taskIDs) == 0 {
		return out, nil
	}
	args := []any{engineerID}
	for _, id := range taskIDs {
		args = append(args, id)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, submitted_at IS NOT NULL FROM submissions WHERE engineer_id=? AND task_id IN (`+placeholders(len(taskIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID string
		var submitted bool
		if err := rows.Scan(&taskID, &submitted); err != nil {
			return nil, err
		}
		out[taskID] = EngineerWork{Claimed: true, Submitted: submitted}
	}
	return out, rows.Err()
}
