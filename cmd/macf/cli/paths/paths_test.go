package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameworkRoot_EnvWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvFrameworkRoot, dir)

	got, err := FrameworkRoot()
	require.NoError(t, err)
	require.Equal(t, dir, got)
}

func TestFrameworkRoot_EnvMissingDirFails(t *testing.T) {
	t.Setenv(EnvFrameworkRoot, filepath.Join(t.TempDir(), "nope"))

	_, err := FrameworkRoot()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPathUnresolved))
}

func TestFrameworkRoot_MarkerWalkUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "framework", "policies"), 0o755))
	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	t.Setenv(EnvFrameworkRoot, "")
	t.Chdir(sub)

	got, err := FrameworkRoot()
	require.NoError(t, err)
	// Resolve symlinks: on macOS TempDir is under /var -> /private/var.
	wantReal, _ := filepath.EvalSymlinks(root)
	gotReal, _ := filepath.EvalSymlinks(got)
	require.Equal(t, wantReal, gotReal)
}

func TestProjectRoot_FallsBackToCwd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvProjectRoot, "")
	t.Chdir(dir)
	ResetWarnings()

	got, err := ProjectRoot()
	require.NoError(t, err)
	wantReal, _ := filepath.EvalSymlinks(dir)
	gotReal, _ := filepath.EvalSymlinks(got)
	require.Equal(t, wantReal, gotReal)
}

func TestAgentHome_MarkerWalkUp(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, MaceffDirName), 0o755))
	sub := filepath.Join(home, "work")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	t.Setenv(EnvAgentHome, "")
	t.Chdir(sub)

	got, err := AgentHome()
	require.NoError(t, err)
	wantReal, _ := filepath.EvalSymlinks(home)
	gotReal, _ := filepath.EvalSymlinks(got)
	require.Equal(t, wantReal, gotReal)
}

func TestEventsLogPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvEventsLogPath, "/tmp/override.jsonl")

	got, err := EventsLogPath()
	require.NoError(t, err)
	require.Equal(t, "/tmp/override.jsonl", got)
}

func TestEventsLogPath_DefaultUnderAgentHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvAgentHome, home)
	t.Setenv(EnvEventsLogPath, "")

	got, err := EventsLogPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, MaceffDirName, EventsLogName), got)
	// MaceffDir is created on demand with owner-only permissions.
	info, err := os.Stat(filepath.Join(home, MaceffDirName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestWarnFallbackOnce_Dedups(t *testing.T) {
	ResetWarnings()
	warnFallbackOnce("project", "reason one")
	warnFallbackOnce("project", "reason one")

	warnMu.Lock()
	defer warnMu.Unlock()
	require.Len(t, warnedFallbacks, 1)
}

func TestRootsAreIndependent(t *testing.T) {
	fw := t.TempDir()
	proj := t.TempDir()
	home := t.TempDir()
	t.Setenv(EnvFrameworkRoot, fw)
	t.Setenv(EnvProjectRoot, proj)
	t.Setenv(EnvAgentHome, home)

	gotFW, err := FrameworkRoot()
	require.NoError(t, err)
	gotProj, err := ProjectRoot()
	require.NoError(t, err)
	gotHome, err := AgentHome()
	require.NoError(t, err)

	require.Equal(t, fw, gotFW)
	require.Equal(t, proj, gotProj)
	require.Equal(t, home, gotHome)
}
