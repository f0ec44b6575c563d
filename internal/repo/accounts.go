package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"appbee/internal/domain"
)

const accountColumns = `id,email,full_name,password_hash,role,approval_state,company_id,xp,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var a domain.Account
	var companyID sql.NullString
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.PasswordHash, &a.Role, &a.ApprovalState, &companyID, &a.XP, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.CompanyID = stringPtr(companyID)
	return a, nil
}

func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO accounts(`+accountColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, strings.TrimSpace(a.Email), a.FullName, a.PasswordHash, string(a.Role), string(a.ApprovalState),
		nullableStringPtr(a.CompanyID), a.XP, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount returns an account that has not been rejected. Rejected rows are
// tombstones and read as absent.
func (r Repo) GetAccount(ctx context.Context, tx *sql.Tx, id string) (domain.Account, error) {
	row := r.on(tx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=? AND approval_state != 'REJECTED'`, id)
	return scanAccount(row)
}

// GetAccountByEmail looks up an active account by case-insensitive email.
func (r Repo) GetAccountByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.Account, error) {
	row := r.on(tx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email)=lower(?) AND approval_state != 'REJECTED'`, strings.TrimSpace(email))
	return scanAccount(row)
}

// ListAccountsByState returns accounts in registration order. An empty role
// matches every role.
func (r Repo) ListAccountsByState(ctx context.Context, state domain.ApprovalState, role domain.Role) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE approval_state=?`
	args := []any{string(state)}
	if role != "" {
		query += ` AND role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY rowid ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// TransitionAccountState moves an account from one approval state to another
// and reports whether a row changed.
func (r Repo) TransitionAccountState(ctx context.Context, tx *sql.Tx, id string, from, to domain.ApprovalState, updatedAt string) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE accounts SET approval_state=?, updated_at=? WHERE id=? AND approval_state=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) SetAccountCompany(ctx context.Context, tx *sql.Tx, id, companyID, updatedAt string) error {
	_, err := r.on(tx).ExecContext(ctx, `UPDATE accounts SET company_id=?, updated_at=? WHERE id=?`, nullable(companyID), updatedAt, id)
	return err
}

// CreditXP adds amount to an engineer's XP and returns the new total.
// Rejected accounts are never credited and report ErrNotFound.
func (r Repo) CreditXP(ctx context.Context, tx *sql.Tx, id string, amount int64, updatedAt string) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative xp credit %d", amount)
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE accounts SET xp = xp + ?, updated_at=? WHERE id=? AND approval_state != 'REJECTED'`, amount, updatedAt, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var total int64
	if err := r.on(tx).QueryRowContext(ctx, `SELECT xp FROM accounts WHERE id=?`, id).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// TopEngineers returns approved engineers by XP descending. Ties keep
// registration order.
func (r Repo) TopEngineers(ctx context.Context, limit int) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE role='ENGINEER' AND approval_state='APPROVED' ORDER BY xp DESC, rowid ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
