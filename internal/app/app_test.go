package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"appbee/internal/config"
	"appbee/internal/db"
	"appbee/internal/migrate"
	"appbee/internal/registry"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Debug().Str("task_id", "t1").Msg("hello")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "hello" || line["task_id"] != "t1" || line["level"] != "debug" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, err := NewLogger("loud", "json", &buf); err == nil {
		t.Fatalf("expected bad level error")
	}
	if _, err := NewLogger("info", "xml", &buf); err == nil {
		t.Fatalf("expected bad format error")
	}
}

func TestBootstrapIsRepeatable(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.New(conn, zerolog.Nop())
	reg.PasswordCost = 4
	ctx := context.Background()
	cfg := config.Default()

	res, err := Bootstrap(ctx, reg, cfg, "")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if res.AdminCreated || len(res.CompaniesCreated) != 3 {
		t.Fatalf("unexpected first run %+v", res)
	}
	res, err = Bootstrap(ctx, reg, cfg, "s3cret")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if !res.AdminCreated || len(res.CompaniesCreated) != 0 {
		t.Fatalf("unexpected second run %+v", res)
	}
	companies, err := reg.ListCompanies(ctx)
	if err != nil || len(companies) != 3 {
		t.Fatalf("expected 3 companies, got %d (%v)", len(companies), err)
	}
	res, err = Bootstrap(ctx, reg, cfg, "s3cret")
	if err != nil || res.AdminCreated {
		t.Fatalf("third run should be a no-op: %+v %v", res, err)
	}
}
