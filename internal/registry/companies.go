package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/events"
	"appbee/internal/repo"
)

type CompanyInput struct {
	Name           string
	Description    string
	OwnerAccountID string
}

// CompanyPatch carries optional changes; nil fields are left alone. An empty
// OwnerAccountID clears the owner.
type CompanyPatch struct {
	Name           *string
	Description    *string
	OwnerAccountID *string
}

// ListCompanies is public so registrants can pick a company to join.
func (g Registry) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	items, err := g.Repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Company{}
	}
	return items, nil
}

func (g Registry) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	c, err := g.Repo.GetCompany(ctx, nil, id)
	if err != nil {
		return c, notFound(err, "company %s not found", id)
	}
	return c, nil
}

func (g Registry) CreateCompany(ctx context.Context, p auth.Principal, in CompanyInput) (domain.Company, error) {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return domain.Company{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Company{}, domain.Errorf(domain.KindValidation, "name is required")
	}
	now := g.now()
	c := domain.Company{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := g.Repo.InsertCompany(ctx, tx, c); err != nil {
		return c, err
	}
	if owner := strings.TrimSpace(in.OwnerAccountID); owner != "" {
		if err := g.linkOwner(ctx, tx, &c, owner, now); err != nil {
			return c, err
		}
		if err := g.Repo.UpdateCompany(ctx, tx, c); err != nil {
			return c, err
		}
	}
	if err := g.Events.Append(ctx, tx, events.CompanyCreated, "company", c.ID, p.AccountID, events.EventPayload{"name": c.Name}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (g Registry) UpdateCompany(ctx context.Context, p auth.Principal, id string, patch CompanyPatch) (domain.Company, error) {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return domain.Company{}, err
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()
	c, err := g.Repo.GetCompany(ctx, tx, id)
	if err != nil {
		return c, notFound(err, "company %s not found", id)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return c, domain.Errorf(domain.KindValidation, "name must not be blank")
		}
		c.Name = name
	}
	if patch.Description != nil {
		c.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.OwnerAccountID != nil {
		owner := strings.TrimSpace(*patch.OwnerAccountID)
		if owner == "" {
			c.OwnerAccountID = nil
		} else if err := g.linkOwner(ctx, tx, &c, owner, g.now()); err != nil {
			return c, err
		}
	}
	if err := g.Repo.UpdateCompany(ctx, tx, c); err != nil {
		return c, err
	}
	if err := g.Events.Append(ctx, tx, events.CompanyUpdated, "company", c.ID, p.AccountID, events.EventPayload{"name": c.Name}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// DeleteCompany removes a company that has never posted a task. Tasks are
// never deleted, so a company with tasks stays.
func (g Registry) DeleteCompany(ctx context.Context, p auth.Principal, id string) error {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return err
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	c, err := g.Repo.GetCompany(ctx, tx, id)
	if err != nil {
		return notFound(err, "company %s not found", id)
	}
	n, err := g.Repo.CountCompanyTasks(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.Errorf(domain.KindInvalidState, "company %s has %d tasks and cannot be deleted", id, n)
	}
	if err := g.Repo.DeleteCompany(ctx, tx, id); err != nil {
		return err
	}
	if err := g.Events.Append(ctx, tx, events.CompanyDeleted, "company", id, p.AccountID, events.EventPayload{"name": c.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureCompany creates a company by name unless one already exists. Used for
// seeding.
func (g Registry) EnsureCompany(ctx context.Context, name, description string) (domain.Company, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Company{}, false, domain.Errorf(domain.KindValidation, "name is required")
	}
	if c, err := g.Repo.GetCompanyByName(ctx, nil, name); err == nil {
		return c, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Company{}, false, err
	}
	c := domain.Company{ID: uuid.NewString(), Name: name, Description: strings.TrimSpace(description), CreatedAt: g.now()}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, false, err
	}
	defer tx.Rollback()
	if err := g.Repo.InsertCompany(ctx, tx, c); err != nil {
		return c, false, err
	}
	if err := g.Events.Append(ctx, tx, events.CompanyCreated, "company", c.ID, "system", events.EventPayload{"name": c.Name, "seeded": true}); err != nil {
		return c, false, err
	}
	if err := tx.Commit(); err != nil {
		return c, false, err
	}
	return c, true, nil
}

// linkOwner makes a company account the owner of c and points the account at c.
func (g Registry) linkOwner(ctx context.Context, tx *sql.Tx, c *domain.Company, ownerID, now string) error {
	a, err := g.Repo.GetAccount(ctx, tx, ownerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Errorf(domain.KindValidation, "owner account %s does not exist", ownerID)
		}
		return err
	}
	if a.Role != domain.RoleCompany {
		return domain.Errorf(domain.KindValidation, "owner account %s is %s, not COMPANY", ownerID, a.Role)
	}
	if err := g.Repo.SetAccountCompany(ctx, tx, a.ID, c.ID, now); err != nil {
		return err
	}
	c.OwnerAccountID = &a.ID
	return nil
}
