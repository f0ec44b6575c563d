package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir       = ".appbee"
	defaultDBName      = "appbee.db"
	defaultBusyTimeout = 10 * time.Second
)

type Config struct {
	Workspace string
	// BusyTimeout is how long a writer waits for the lock. Zero means 10s.
	BusyTimeout time.Duration
}

// EnsureWorkspace creates the .appbee directory under workspace.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(orDot(workspace), workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the database file for the workspace.
func Path(workspace string) string {
	return filepath.Join(orDot(workspace), workspaceDir, defaultDBName)
}

// DSN builds the sqlite connection string. Write transactions take the lock
// up front (_txlock=immediate) so concurrent claims queue on the busy
// timeout instead of failing on upgrade.
func DSN(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
		"_pragma=journal_mode(WAL)",
		"_txlock=immediate",
	}
	return "file:" + Path(cfg.Workspace) + "?" + strings.Join(params, "&")
}

// Open creates the workspace if needed and opens the marketplace database.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}

func orDot(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}
