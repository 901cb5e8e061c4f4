// Package paths resolves the three independent MACF roots (framework root,
// project root, agent home) and derives the well-known file locations under
// them.
//
// Each root has one env var that wins outright, a marker-based walk up from
// the working directory, and a terminal fallback that is warned about exactly
// once per process. The three roots may coincide on disk but are never
// interchangeable.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Environment variables recognized by the resolvers.
const (
	EnvFrameworkRoot = "MACEFF_ROOT_DIR"
	EnvProjectRoot   = "CLAUDE_PROJECT_DIR"
	EnvAgentHome     = "MACEFF_AGENT_HOME_DIR"
	EnvEventsLogPath = "MACF_EVENTS_LOG_PATH"
	EnvSearchSocket  = "MACF_SEARCH_SOCKET"
	EnvAutoMode      = "MACF_AUTO_MODE"
)

// Directory layout under the agent home.
const (
	MaceffDirName    = ".maceff"
	EventsLogName    = "agent_events_log.jsonl"
	ConfigFileName   = "config.json"
	SearchSocketName = "search.sock"
	SearchPIDName    = "search.pid"
	IndexDirName     = "index"
	LogsDirName      = "logs"
	ArtifactDirName  = "agent"
)

// FrameworkPoliciesSubtree is the marker identifying a framework root.
const FrameworkPoliciesSubtree = "framework/policies"

// Terminal fallback for the framework root.
const frameworkFallback = "/opt/maceff"

// ErrPathUnresolved is returned when a root cannot be resolved to an
// existing absolute path. Fatal in CLI commands; hooks downgrade it.
var ErrPathUnresolved = errors.New("path unresolved")

// warnedFallbacks dedupes fallback warnings by (root, reason) per process.
var (
	warnMu          sync.Mutex
	warnedFallbacks = map[string]bool{}
	warnWriter      = os.Stderr
)

func warnFallbackOnce(root, reason string) {
	warnMu.Lock()
	defer warnMu.Unlock()
	key := root + "|" + reason
	if warnedFallbacks[key] {
		return
	}
	warnedFallbacks[key] = true
	fmt.Fprintf(warnWriter, "Warning: %s root: %s\n", root, reason)
}

// ResetWarnings clears the fallback warning dedup set. For tests.
func ResetWarnings() {
	warnMu.Lock()
	defer warnMu.Unlock()
	warnedFallbacks = map[string]bool{}
}

// dirExists reports whether path is an existing directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// walkUpFor walks from start toward the filesystem root looking for a
// directory that contains marker (a relative path). Returns the containing
// directory or "".
func walkUpFor(start, marker string) string {
	dir := start
	for {
		if dirExists(filepath.Join(dir, filepath.FromSlash(marker))) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolve implements the shared chain: env var, marker walk, fallback.
// The fallback func may return "" to signal no terminal fallback exists.
func resolve(rootName, envVar, marker string, fallback func() (string, string)) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		abs, err := filepath.Abs(v)
		if err == nil && dirExists(abs) {
			return abs, nil
		}
		return "", fmt.Errorf("%w: %s root: %s=%q does not exist", ErrPathUnresolved, rootName, envVar, v)
	}

	cwd, err := os.Getwd()
	if err == nil {
		if found := walkUpFor(cwd, marker); found != "" {
			return found, nil
		}
	}

	dir, reason := fallback()
	if dir == "" {
		return "", fmt.Errorf("%w: %s root: no %s set, no %s marker above cwd", ErrPathUnresolved, rootName, envVar, marker)
	}
	if !dirExists(dir) {
		return "", fmt.Errorf("%w: %s root: fallback %q does not exist", ErrPathUnresolved, rootName, dir)
	}
	warnFallbackOnce(rootName, reason)
	return dir, nil
}

// FrameworkRoot resolves the MACEFF framework installation root.
// Chain: MACEFF_ROOT_DIR, walk up for framework/policies, /opt/maceff.
func FrameworkRoot() (string, error) {
	return resolve("framework", EnvFrameworkRoot, FrameworkPoliciesSubtree, func() (string, string) {
		if dirExists(frameworkFallback) {
			return frameworkFallback, "falling back to " + frameworkFallback
		}
		return "", ""
	})
}

// ProjectRoot resolves the project being worked on.
// Chain: CLAUDE_PROJECT_DIR, walk up for .claude/, cwd.
func ProjectRoot() (string, error) {
	return resolve("project", EnvProjectRoot, ".claude", func() (string, string) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", ""
		}
		return cwd, "no .claude directory found, using current working directory"
	})
}

// AgentHome resolves the agent's home, under which all MACF state lives.
// Chain: MACEFF_AGENT_HOME_DIR, walk up for .maceff/, user home.
func AgentHome() (string, error) {
	return resolve("agent home", EnvAgentHome, MaceffDirName, func() (string, string) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", ""
		}
		return home, "no .maceff directory found, using user home directory"
	})
}

// MaceffDir returns {agent_home}/.maceff, creating it if absent.
func MaceffDir() (string, error) {
	home, err := AgentHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, MaceffDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// EventsLogPath returns the event log location. MACF_EVENTS_LOG_PATH wins
// (used by tests); otherwise {agent_home}/.maceff/agent_events_log.jsonl.
func EventsLogPath() (string, error) {
	if v := os.Getenv(EnvEventsLogPath); v != "" {
		return v, nil
	}
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EventsLogName), nil
}

// SearchSocketPath returns the search service socket location.
func SearchSocketPath() (string, error) {
	if v := os.Getenv(EnvSearchSocket); v != "" {
		return v, nil
	}
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SearchSocketName), nil
}

// SearchPIDPath returns the search service pidfile location.
func SearchPIDPath() (string, error) {
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SearchPIDName), nil
}

// IndexDir returns the hybrid index persistence directory.
func IndexDir() (string, error) {
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, IndexDirName), nil
}

// ConfigPath returns the agent identity config location.
func ConfigPath() (string, error) {
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// LogsDir returns the hook log directory, creating it if absent.
func LogsDir() (string, error) {
	dir, err := MaceffDir()
	if err != nil {
		return "", err
	}
	logs := filepath.Join(dir, LogsDirName)
	if err := os.MkdirAll(logs, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", logs, err)
	}
	return logs, nil
}

// ArtifactRoot returns {agent_home}/agent, the base of the consciousness
// artifact convention. The directory is not created: discovery treats a
// missing tree as "no artifacts".
func ArtifactRoot() (string, error) {
	home, err := AgentHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ArtifactDirName), nil
}

// PoliciesDir returns {framework_root}/framework/policies.
func PoliciesDir() (string, error) {
	root, err := FrameworkRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(FrameworkPoliciesSubtree)), nil
}

// AutoMode reports whether MACF_AUTO_MODE is set to a truthy value.
func AutoMode() bool {
	switch os.Getenv(EnvAutoMode) {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}
