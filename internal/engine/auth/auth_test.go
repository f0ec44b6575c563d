package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"appbee/internal/db"
	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/migrate"
	"appbee/internal/registry"
)

type fixture struct {
	ctx   context.Context
	reg   registry.Registry
	gate  auth.Gate
	clock *time.Time
	admin auth.Principal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	reg := registry.New(conn, zerolog.Nop())
	reg.PasswordCost = 4
	admin, _, err := reg.EnsureAdmin(ctx, "admin@bee.com", "Admin", "secret")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := fixture{ctx: ctx, reg: reg, clock: &clock, admin: auth.FromAccount(admin, auth.SourceLocal)}
	f.gate = auth.Gate{
		Repo:   reg.Repo,
		Secret: []byte("s3cret"),
		Issuer: "appbee",
		TTL:    time.Hour,
		Now:    func() time.Time { return *f.clock },
	}
	return f
}

func TestRequire(t *testing.T) {
	approved := auth.Principal{AccountID: "a", Role: domain.RoleCompany, ApprovalState: domain.StateApproved}
	pending := auth.Principal{AccountID: "b", Role: domain.RoleEngineer, ApprovalState: domain.StatePending}

	if err := approved.Require(); err != nil {
		t.Fatalf("approved with no role constraint: %v", err)
	}
	if err := approved.Require(domain.RoleCompany, domain.RoleAdmin); err != nil {
		t.Fatalf("matching role: %v", err)
	}
	if err := approved.Require(domain.RoleEngineer); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("wrong role: expected authorization error, got %v", err)
	}
	if err := pending.Require(domain.RoleEngineer); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("pending: expected authorization error, got %v", err)
	}
	if err := (auth.Principal{}).Require(); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("anonymous: expected unauthenticated, got %v", err)
	}
}

func TestLoginAndResolveToken(t *testing.T) {
	f := newFixture(t)
	token, exp, p, err := f.gate.Login(f.ctx, "ADMIN@bee.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !exp.Equal(f.clock.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	if p.AccountID != f.admin.AccountID || p.Role != domain.RoleAdmin {
		t.Fatalf("unexpected principal %+v", p)
	}
	resolved, err := f.gate.ResolveToken(f.ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.AccountID != f.admin.AccountID || resolved.Source != auth.SourceJWT {
		t.Fatalf("unexpected resolved principal %+v", resolved)
	}

	if _, _, _, err := f.gate.Login(f.ctx, "admin@bee.com", "wrong"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("wrong password: expected unauthenticated, got %v", err)
	}
	if _, _, _, err := f.gate.Login(f.ctx, "nobody@bee.com", "secret"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("unknown email: expected unauthenticated, got %v", err)
	}
	if _, _, _, err := f.gate.Login(f.ctx, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank login: expected validation error, got %v", err)
	}
}

func TestResolveTokenRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	a, err := f.reg.Repo.GetAccount(f.ctx, nil, f.admin.AccountID)
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	token, _, err := f.gate.IssueToken(a)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := f.gate
	other.Secret = []byte("different")
	if _, err := other.ResolveToken(f.ctx, token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("wrong secret: expected unauthenticated, got %v", err)
	}
	foreign := f.gate
	foreign.Issuer = "someone-else"
	if _, err := foreign.ResolveToken(f.ctx, token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("wrong issuer: expected unauthenticated, got %v", err)
	}
	if _, err := f.gate.ResolveToken(f.ctx, "not-a-jwt"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("garbage: expected unauthenticated, got %v", err)
	}
	*f.clock = f.clock.Add(2 * time.Hour)
	if _, err := f.gate.ResolveToken(f.ctx, token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expired: expected unauthenticated, got %v", err)
	}
}

// A token outlives approval changes: role and state are always re-read.
func TestResolveReadsCurrentAccountState(t *testing.T) {
	f := newFixture(t)
	e, err := f.reg.Register(f.ctx, registry.RegisterOptions{Email: "e@bee.com", Password: "pw", Role: "engineer"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, _, err := f.gate.IssueToken(e)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := f.gate.ResolveToken(f.ctx, token)
	if err != nil {
		t.Fatalf("pending resolve: %v", err)
	}
	if p.ApprovalState != domain.StatePending || p.Require(domain.RoleEngineer) == nil {
		t.Fatalf("pending principal must resolve but not pass Require: %+v", p)
	}
	if _, err := f.reg.Approve(f.ctx, f.admin, e.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, err = f.gate.ResolveToken(f.ctx, token)
	if err != nil || p.Require(domain.RoleEngineer) != nil {
		t.Fatalf("approved principal should pass: %+v %v", p, err)
	}
	if err := f.reg.Reject(f.ctx, f.admin, e.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.gate.ResolveToken(f.ctx, token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("rejected: expected unauthenticated, got %v", err)
	}
}

func TestResolveAPIKey(t *testing.T) {
	f := newFixture(t)
	_, plain, err := f.reg.CreateAPIKey(f.ctx, f.admin, "", "cli")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	p, err := f.gate.ResolveAPIKey(f.ctx, plain)
	if err != nil {
		t.Fatalf("resolve key: %v", err)
	}
	if p.AccountID != f.admin.AccountID || p.Source != auth.SourceAPIKey {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := f.gate.ResolveAPIKey(f.ctx, "bee_nope"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("unknown key: expected unauthenticated, got %v", err)
	}
	if _, err := f.gate.ResolveAPIKey(f.ctx, " "); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("blank key: expected unauthenticated, got %v", err)
	}
}
