// Package testutil provides shared test helpers: temporary agent homes with
// the environment pointed at them, and throwaway git repositories for
// breadcrumb resolution.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/config"
)

// TempAgentHome creates a temporary agent home with the .maceff directory
// and points MACF_EVENTS_LOG_PATH at a log inside it. Returns the home and
// the log path.
func TempAgentHome(t *testing.T) (home, logPath string) {
	t.Helper()

	home = t.TempDir()
	maceffDir := filepath.Join(home, ".maceff")
	if err := os.MkdirAll(maceffDir, 0o700); err != nil {
		t.Fatalf("failed to create .maceff dir: %v", err)
	}

	logPath = filepath.Join(maceffDir, "events.jsonl")
	t.Setenv("MACF_EVENTS_LOG_PATH", logPath)
	return home, logPath
}

// InitRepo initializes a git repository in the given directory with test user config.
func InitRepo(t *testing.T, repoDir string) {
	t.Helper()

	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("failed to get repo config: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"

	// Disable GPG signing for test commits
	if cfg.Raw == nil {
		cfg.Raw = config.New()
	}
	cfg.Raw.Section("commit").SetOption("gpgsign", "false")

	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("failed to set repo config: %v", err)
	}
}

// WriteFile creates a file with the given content under dir, creating parent
// directories as needed.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()

	fullPath := filepath.Join(dir, path)

	//nolint:gosec // test code, permissions are intentionally standard
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}

	//nolint:gosec // test code, permissions are intentionally standard
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}
