package ranking_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"appbee/internal/config"
	"appbee/internal/db"
	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/migrate"
	"appbee/internal/ranking"
	"appbee/internal/registry"
)

type fixture struct {
	ctx   context.Context
	reg   registry.Registry
	proj  ranking.Projector
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
	admin, _, err := reg.EnsureAdmin(ctx, "admin@bee.com", "Admin", "pw")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	cfg := config.Default()
	return fixture{
		ctx:   ctx,
		reg:   reg,
		proj:  ranking.Projector{Repo: reg.Repo, Config: cfg},
		admin: auth.FromAccount(admin, auth.SourceLocal),
	}
}

func (f fixture) engineer(t *testing.T, email string, xp int64, approve bool) domain.Account {
	t.Helper()
	a, err := f.reg.Register(f.ctx, registry.RegisterOptions{FullName: email, Email: email, Password: "pw", Role: "ENGINEER"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if approve {
		if a, err = f.reg.Approve(f.ctx, f.admin, a.ID); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if xp > 0 {
		if _, err := f.reg.Repo.CreditXP(f.ctx, nil, a.ID, xp, "2024-01-01T00:00:00Z"); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	return a
}

func TestTopEngineersOrdersByXPThenRegistration(t *testing.T) {
	f := newFixture(t)
	low := f.engineer(t, "low@bee.com", 100, true)
	tieFirst := f.engineer(t, "tie1@bee.com", 500, true)
	tieSecond := f.engineer(t, "tie2@bee.com", 500, true)
	f.engineer(t, "pending@bee.com", 9000, false)
	top := f.engineer(t, "top@bee.com", 1300, true)

	r, err := f.proj.TopEngineers(f.ctx, f.admin, 0)
	if err != nil {
		t.Fatalf("top engineers: %v", err)
	}
	want := []string{top.ID, tieFirst.ID, tieSecond.ID, low.ID}
	if r.Len() != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), r.Len())
	}
	for rank, e := range r.All() {
		if e.AccountID != want[rank-1] {
			t.Fatalf("rank %d: got %s want %s", rank, e.FullName, want[rank-1])
		}
	}
	first := r.Entries()[0]
	if first.XP != 1300 || first.Level != 3 {
		t.Fatalf("unexpected top entry %+v", first)
	}

	count := 0
	for range r.All() {
		count++
	}
	if count != len(want) {
		t.Fatalf("ranking should be restartable, second pass saw %d", count)
	}
}

func TestTopEngineersHonorsLimit(t *testing.T) {
	f := newFixture(t)
	for _, email := range []string{"a@bee.com", "b@bee.com", "c@bee.com"} {
		f.engineer(t, email, 0, true)
	}
	r, err := f.proj.TopEngineers(f.ctx, f.admin, 2)
	if err != nil {
		t.Fatalf("top engineers: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Len())
	}
	for rank := range r.All() {
		if rank == 1 {
			break
		}
	}
	if f.proj.Limit(0) != 10 || f.proj.Limit(1000) != 100 || f.proj.Limit(7) != 7 {
		t.Fatalf("unexpected limit clamping")
	}
}

func TestTopEngineersUnavailableToIneligible(t *testing.T) {
	f := newFixture(t)
	pending := f.engineer(t, "p@bee.com", 0, false)
	cases := map[string]auth.Principal{
		"anonymous": {},
		"pending":   auth.FromAccount(pending, auth.SourceLocal),
	}
	for name, p := range cases {
		r, err := f.proj.TopEngineers(f.ctx, p, 0)
		if !errors.Is(err, ranking.ErrUnavailable) || !errors.Is(err, domain.ErrAuthorization) {
			t.Fatalf("%s: expected unavailable, got %v", name, err)
		}
		if r.Len() != 0 {
			t.Fatalf("%s: no entries should leak", name)
		}
	}
}
