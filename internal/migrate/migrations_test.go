package migrate_test

import (
	"context"
	"testing"

	"appbee/internal/db"
	"appbee/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if v, err := migrate.Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh database reports version %d (%v)", v, err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	pending, err := migrate.Pending(ctx, conn)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) < 2 || pending[0].Version != 1 || pending[len(pending)-1].Version != latest {
		t.Fatalf("fresh database should have every migration pending, got %+v", pending)
	}
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	current, err := migrate.Current(ctx, conn)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != latest {
		t.Fatalf("expected version %d, got %d", latest, current)
	}
	if pending, err := migrate.Pending(ctx, conn); err != nil || len(pending) != 0 {
		t.Fatalf("nothing should be pending after migrate, got %d (%v)", len(pending), err)
	}
	for _, table := range []string{"accounts", "companies", "tasks", "task_assignees", "submissions", "events", "api_keys"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
	for _, index := range []string{"idx_accounts_email_active", "idx_submissions_unpaid", "idx_accounts_leaderboard"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='index' AND name=?`, index).Scan(&name); err != nil {
			t.Fatalf("index %s missing: %v", index, err)
		}
	}
}

// A rejected account frees its email; only live rows are unique.
func TestEmailUniqueAmongLiveAccounts(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	insert := `INSERT INTO accounts(id,email,full_name,password_hash,role,approval_state,created_at,updated_at)
VALUES (?,?,'E','x','ENGINEER',?,'t','t')`
	if _, err := conn.Exec(insert, "a1", "e@bee.com", "REJECTED"); err != nil {
		t.Fatalf("insert tombstone: %v", err)
	}
	if _, err := conn.Exec(insert, "a2", "E@bee.com", "PENDING"); err != nil {
		t.Fatalf("email of a tombstone should be reusable: %v", err)
	}
	if _, err := conn.Exec(insert, "a3", "e@bee.com", "APPROVED"); err == nil {
		t.Fatalf("duplicate live email accepted")
	}
}
