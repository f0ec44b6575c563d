// Package registry tracks account registrations and admits or rejects them.
// It also owns company administration, since companies are the other half of
// a company account's identity.
package registry

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/events"
	"appbee/internal/repo"
)

type Registry struct {
	DB           *sql.DB
	Repo         repo.Repo
	Events       events.Writer
	Log          zerolog.Logger
	Now          func() time.Time
	PasswordCost int
}

func New(db *sql.DB, logger zerolog.Logger) Registry {
	return Registry{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Log:    logger.With().Str("component", "registry").Logger(),
		Now:    time.Now,
	}
}

func (g Registry) now() string {
	if g.Now != nil {
		return g.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// RegisterOptions are the fields of a registration request.
type RegisterOptions struct {
	FullName  string
	Email     string
	Password  string
	Role      string
	CompanyID string
}

// Register creates a PENDING account. A company registrant either joins an
// existing company or gets a new one with themselves as owner.
func (g Registry) Register(ctx context.Context, opts RegisterOptions) (domain.Account, error) {
	email := strings.TrimSpace(opts.Email)
	if email == "" {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "email is required")
	}
	if !strings.Contains(email, "@") {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "email %q is not valid", email)
	}
	if opts.Password == "" {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "password is required")
	}
	if strings.TrimSpace(opts.Role) == "" {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "role is required")
	}
	role, err := domain.ParseRole(opts.Role)
	if err != nil {
		return domain.Account{}, err
	}
	companyID := strings.TrimSpace(opts.CompanyID)
	if companyID != "" && role != domain.RoleCompany {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "company_id applies only to company accounts")
	}
	fullName := strings.TrimSpace(opts.FullName)
	if fullName == "" {
		fullName = email
	}
	hash, err := auth.HashPassword(opts.Password, g.PasswordCost)
	if err != nil {
		return domain.Account{}, err
	}
	now := g.now()
	a := domain.Account{
		ID:            uuid.NewString(),
		Email:         email,
		FullName:      fullName,
		PasswordHash:  hash,
		Role:          role,
		ApprovalState: domain.StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	if _, err := g.Repo.GetAccountByEmail(ctx, tx, email); err == nil {
		return domain.Account{}, domain.Errorf(domain.KindValidation, "email %s is already registered", email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Account{}, err
	}
	if companyID != "" {
		if _, err := g.Repo.GetCompany(ctx, tx, companyID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Account{}, domain.Errorf(domain.KindValidation, "company %s does not exist", companyID)
			}
			return domain.Account{}, err
		}
		a.CompanyID = &companyID
	}
	if err := g.Repo.InsertAccount(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, domain.Errorf(domain.KindValidation, "email %s is already registered", email)
		}
		return domain.Account{}, err
	}
	payload := events.EventPayload{"email": a.Email, "role": a.Role}
	if role == domain.RoleCompany && companyID == "" {
		owner := a.ID
		c := domain.Company{
			ID:             uuid.NewString(),
			Name:           fullName,
			OwnerAccountID: &owner,
			CreatedAt:      now,
		}
		if err := g.Repo.InsertCompany(ctx, tx, c); err != nil {
			return domain.Account{}, err
		}
		if err := g.Repo.SetAccountCompany(ctx, tx, a.ID, c.ID, now); err != nil {
			return domain.Account{}, err
		}
		a.CompanyID = &c.ID
		payload["created_company_id"] = c.ID
	}
	if a.CompanyID != nil {
		payload["company_id"] = *a.CompanyID
	}
	if err := g.Events.Append(ctx, tx, events.AccountRegistered, "account", a.ID, a.ID, payload); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	g.Log.Info().Str("account_id", a.ID).Str("role", string(a.Role)).Msg("account registered")
	return a, nil
}

// ListPending returns accounts awaiting review in registration order.
func (g Registry) ListPending(ctx context.Context, p auth.Principal) ([]domain.Account, error) {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return nil, err
	}
	items, err := g.Repo.ListAccountsByState(ctx, domain.StatePending, "")
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Account{}
	}
	return items, nil
}

// Get returns an account to itself or to an admin.
func (g Registry) Get(ctx context.Context, p auth.Principal, id string) (domain.Account, error) {
	if p.AccountID == "" {
		return domain.Account{}, domain.Errorf(domain.KindUnauthenticated, "authentication required")
	}
	if p.AccountID != id {
		if err := p.Require(domain.RoleAdmin); err != nil {
			return domain.Account{}, err
		}
	}
	a, err := g.Repo.GetAccount(ctx, nil, id)
	if err != nil {
		return a, notFound(err, "account %s not found", id)
	}
	return a, nil
}

// Approve admits a PENDING account.
func (g Registry) Approve(ctx context.Context, p auth.Principal, id string) (domain.Account, error) {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return domain.Account{}, err
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	a, err := g.Repo.GetAccount(ctx, tx, id)
	if err != nil {
		return a, notFound(err, "account %s not found", id)
	}
	if a.ApprovalState != domain.StatePending {
		return a, domain.Errorf(domain.KindInvalidState, "account %s is %s, not PENDING", id, a.ApprovalState)
	}
	now := g.now()
	ok, err := g.Repo.TransitionAccountState(ctx, tx, id, domain.StatePending, domain.StateApproved, now)
	if err != nil {
		return a, err
	}
	if !ok {
		return a, domain.Errorf(domain.KindConflict, "account %s changed during approval", id)
	}
	if err := g.Events.Append(ctx, tx, events.AccountApproved, "account", id, p.AccountID, events.EventPayload{"role": a.Role}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.ApprovalState = domain.StateApproved
	a.UpdatedAt = now
	g.Log.Info().Str("account_id", id).Str("admin_id", p.AccountID).Msg("account approved")
	return a, nil
}

// Reject removes an account from the active set. The row stays as a REJECTED
// tombstone for auditing, is hidden from every read, and releases its email.
func (g Registry) Reject(ctx context.Context, p auth.Principal, id string) error {
	if err := p.Require(domain.RoleAdmin); err != nil {
		return err
	}
	if id == p.AccountID {
		return domain.Errorf(domain.KindInvalidState, "admins cannot reject their own account")
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	a, err := g.Repo.GetAccount(ctx, tx, id)
	if err != nil {
		return notFound(err, "account %s not found", id)
	}
	ok, err := g.Repo.TransitionAccountState(ctx, tx, id, a.ApprovalState, domain.StateRejected, g.now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.Errorf(domain.KindConflict, "account %s changed during rejection", id)
	}
	if err := g.Repo.DeleteAPIKeysForAccount(ctx, tx, id); err != nil {
		return err
	}
	if err := g.Events.Append(ctx, tx, events.AccountRejected, "account", id, p.AccountID, events.EventPayload{
		"previous_state": a.ApprovalState,
		"email":          a.Email,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	g.Log.Info().Str("account_id", id).Str("admin_id", p.AccountID).Msg("account rejected")
	return nil
}

// CreateAPIKey mints a key for an account. Admins may mint for anyone;
// approved accounts may mint for themselves. The plaintext key is returned
// once and only its hash is stored.
func (g Registry) CreateAPIKey(ctx context.Context, p auth.Principal, accountID, name string) (domain.APIKey, string, error) {
	if accountID == "" {
		accountID = p.AccountID
	}
	if accountID == p.AccountID {
		if err := p.Require(); err != nil {
			return domain.APIKey{}, "", err
		}
	} else if err := p.Require(domain.RoleAdmin); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	plain := "bee_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: g.now(),
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if _, err := g.Repo.GetAccount(ctx, tx, accountID); err != nil {
		return domain.APIKey{}, "", notFound(err, "account %s not found", accountID)
	}
	if err := g.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := g.Events.Append(ctx, tx, events.APIKeyCreated, "account", accountID, p.AccountID, events.EventPayload{"key_id": key.ID, "name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// ListAPIKeys returns the keys held by an account, newest first. Only hashes
// are returned. The same rule as CreateAPIKey applies.
func (g Registry) ListAPIKeys(ctx context.Context, p auth.Principal, accountID string) ([]domain.APIKey, error) {
	if accountID == "" {
		accountID = p.AccountID
	}
	if accountID == p.AccountID {
		if err := p.Require(); err != nil {
			return nil, err
		}
	} else if err := p.Require(domain.RoleAdmin); err != nil {
		return nil, err
	}
	keys, err := g.Repo.ListAPIKeys(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []domain.APIKey{}
	}
	return keys, nil
}

// EnsureAdmin creates an approved admin account when no active account holds
// the email. It reports whether an account was created.
func (g Registry) EnsureAdmin(ctx context.Context, email, fullName, password string) (domain.Account, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Account{}, false, domain.Errorf(domain.KindValidation, "admin email and password are required")
	}
	if a, err := g.Repo.GetAccountByEmail(ctx, nil, email); err == nil {
		if a.Role != domain.RoleAdmin {
			return a, false, domain.Errorf(domain.KindConflict, "%s is registered as %s, not ADMIN", email, a.Role)
		}
		return a, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Account{}, false, err
	}
	hash, err := auth.HashPassword(password, g.PasswordCost)
	if err != nil {
		return domain.Account{}, false, err
	}
	if strings.TrimSpace(fullName) == "" {
		fullName = email
	}
	now := g.now()
	a := domain.Account{
		ID:            uuid.NewString(),
		Email:         email,
		FullName:      fullName,
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		ApprovalState: domain.StateApproved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, false, err
	}
	defer tx.Rollback()
	if err := g.Repo.InsertAccount(ctx, tx, a); err != nil {
		return domain.Account{}, false, err
	}
	if err := g.Events.Append(ctx, tx, events.AccountApproved, "account", a.ID, "system", events.EventPayload{"role": a.Role, "bootstrap": true}); err != nil {
		return domain.Account{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, false, err
	}
	g.Log.Info().Str("account_id", a.ID).Str("email", email).Msg("bootstrap admin created")
	return a, true, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Errorf(domain.KindNotFound, format, args...)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
