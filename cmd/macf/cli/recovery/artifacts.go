package recovery

import (
	"os"
	"path/filepath"
	"regexp"
)

// Kind is an artifact family under the conventional layout
// {agent_home}/agent/{private|public}/{kind}/YYYY-MM-DD_HHMMSS_<desc>_<kind>.md
type Kind string

const (
	KindCheckpoint Kind = "checkpoint"
	KindReflection Kind = "reflection"
	KindRoadmap    Kind = "roadmap"
)

func (k Kind) dirName() string { return string(k) + "s" }

var visibilities = []string{"private", "public"}

// artifactName matches the timestamped naming convention for one kind.
func artifactName(kind Kind) *regexp.Regexp {
	return regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{6}_.+_` + regexp.QuoteMeta(string(kind)) + `\.md$`)
}

// Discoverer finds the newest artifact of a kind. The timestamp prefix makes
// lexicographic max equal newest, so discovery never stats files.
type Discoverer struct {
	root string // {agent_home}/agent
}

func NewDiscoverer(root string) *Discoverer {
	return &Discoverer{root: root}
}

// Latest returns the path of the lexicographically greatest matching file
// across private and public, or "". Missing directories are not an error.
func (d *Discoverer) Latest(kind Kind) string {
	pattern := artifactName(kind)

	var bestName, bestPath string
	for _, vis := range visibilities {
		dir := filepath.Join(d.root, vis, kind.dirName())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !pattern.MatchString(name) {
				continue
			}
			if name > bestName {
				bestName = name
				bestPath = filepath.Join(dir, name)
			}
		}
	}
	return bestPath
}

// LatestAll returns the newest artifact per kind, omitting kinds with none.
func (d *Discoverer) LatestAll() map[Kind]string {
	out := map[Kind]string{}
	for _, kind := range []Kind{KindCheckpoint, KindReflection, KindRoadmap} {
		if p := d.Latest(kind); p != "" {
			out[kind] = p
		}
	}
	return out
}
