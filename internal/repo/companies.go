package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"appbee/internal/domain"
)

const companyColumns = `id,name,COALESCE(description,''),owner_account_id,created_at`

func scanCompany(row rowScanner) (domain.Company, error) {
	var c domain.Company
	var owner sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Description, &owner, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.OwnerAccountID = stringPtr(owner)
	return c, nil
}

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO companies(id,name,description,owner_account_id,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Description), nullableStringPtr(c.OwnerAccountID), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (r Repo) GetCompany(ctx context.Context, tx *sql.Tx, id string) (domain.Company, error) {
	return scanCompany(r.on(tx).QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=?`, id))
}

func (r Repo) GetCompanyByName(ctx context.Context, tx *sql.Tx, name string) (domain.Company, error) {
	return scanCompany(r.on(tx).QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE lower(name)=lower(?) ORDER BY rowid LIMIT 1`, strings.TrimSpace(name)))
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE companies SET name=?, description=?, owner_account_id=? WHERE id=?`,
		c.Name, nullable(c.Description), nullableStringPtr(c.OwnerAccountID), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCompany(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountCompanyTasks(ctx context.Context, tx *sql.Tx, companyID string) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE company_id=?`, companyID).Scan(&n)
	return n, err
}
