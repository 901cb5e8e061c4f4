package versioncheck

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
)

// ManifestFileName is the policy tree manifest carrying framework metadata.
const ManifestFileName = "MANIFEST.json"

// Manifest is the subset of the policy manifest the CLI cares about.
type Manifest struct {
	MinCLI string `json:"min_cli"`
}

// CheckManifest reads the policy manifest and reports whether
// currentVersion satisfies its min_cli requirement. A missing manifest or
// an empty requirement is treated as satisfied; dev builds always satisfy.
func CheckManifest(policiesDir, currentVersion string) (minCLI string, ok bool, err error) {
	data, readErr := os.ReadFile(filepath.Join(policiesDir, ManifestFileName)) //nolint:gosec // path from resolver
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("reading manifest: %w", readErr)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", false, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.MinCLI == "" {
		return "", true, nil
	}

	if currentVersion == "dev" || currentVersion == "" {
		return m.MinCLI, true, nil
	}

	current := currentVersion
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	minimum := m.MinCLI
	if !strings.HasPrefix(minimum, "v") {
		minimum = "v" + minimum
	}

	return m.MinCLI, semver.Compare(current, minimum) >= 0, nil
}
