// Package recovery classifies how a session began and composes the
// restoration payload shown to the agent. Classification is derived from the
// hook input and the event log; compaction and migration additionally trigger
// artifact discovery so the payload can point at the latest checkpoint,
// reflection and roadmap.
package recovery

import (
	"fmt"
	"os"
	"strings"

	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/reconcile"
)

// Classification of a session start.
type Classification string

const (
	ClassStartup   Classification = "startup"
	ClassResume    Classification = "resume"
	ClassClear     Classification = "clear"
	ClassCompact   Classification = "compact"
	ClassMigration Classification = "migration"
)

// Input is the slice of the session_start hook input the detector needs.
type Input struct {
	SessionID      string
	Source         string // startup|resume|clear|compact, "" when host omits it
	TranscriptPath string
}

// Result of running the detector.
type Result struct {
	Classification Classification
	Cycle          int
	PreviousID     string // set on migration
	Message        string // restoration payload, "" for plain starts
}

// Detector runs the session-start algorithm against one log.
type Detector struct {
	log       *eventlog.Log
	artifacts *Discoverer
	crumb     func() string
}

// NewDetector wires a detector. crumb composes the breadcrumb to stamp on
// appended events; artifactRoot is the {agent_home}/agent directory.
func NewDetector(log *eventlog.Log, artifactRoot string, crumb func() string) *Detector {
	return &Detector{log: log, artifacts: NewDiscoverer(artifactRoot), crumb: crumb}
}

// Run classifies the start, appends the boundary events in order
// (compaction_detected or migration_detected first, session_started last)
// and composes the recovery message.
func (d *Detector) Run(in Input) (Result, error) {
	res := Result{Cycle: reconcile.Cycle(d.log)}

	lastID := reconcile.LastSessionID(d.log)

	switch {
	case in.Source == string(ClassCompact):
		res.Classification = ClassCompact
		res.Cycle++
		_, err := d.log.AppendNow(eventlog.EventCompactionDetected, d.crumb(), map[string]any{
			"session_id":       in.SessionID,
			"cycle":            res.Cycle,
			"detection_method": "source_field",
		}, nil)
		if err != nil {
			return res, err
		}
		res.Message = d.composeCompact(res.Cycle)

	case lastID != "" && in.SessionID != "" && lastID != in.SessionID:
		res.Classification = ClassMigration
		res.PreviousID = lastID
		data := map[string]any{
			"previous": lastID,
			"current":  in.SessionID,
		}
		if n := transcriptBytes(in.TranscriptPath); n > 0 {
			data["orphaned_transcript_bytes"] = n
		}
		if _, err := d.log.AppendNow(eventlog.EventMigrationDetected, d.crumb(), data, nil); err != nil {
			return res, err
		}
		res.Message = d.composeMigration(lastID, in.SessionID)

	default:
		res.Classification = classFromSource(in.Source)
		res.Message = banner(res.Classification, res.Cycle)
	}

	_, err := d.log.AppendNow(eventlog.EventSessionStarted, d.crumb(), map[string]any{
		"session_id":     in.SessionID,
		"cycle":          res.Cycle,
		"classification": string(res.Classification),
	}, nil)
	return res, err
}

func classFromSource(source string) Classification {
	switch source {
	case string(ClassResume):
		return ClassResume
	case string(ClassClear):
		return ClassClear
	default:
		return ClassStartup
	}
}

// transcriptBytes is informational only; any failure yields 0.
func transcriptBytes(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// composeCompact builds the urgent restoration payload. Artifacts are named
// in fixed load order: latest reflection, then roadmap, then checkpoint.
func (d *Detector) composeCompact(cycle int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context compaction detected. Cycle is now %d.\n", cycle)
	b.WriteString("Restore working state before continuing. Load in this order:\n")

	order := []Kind{KindReflection, KindRoadmap, KindCheckpoint}
	found := 0
	for i, kind := range order {
		path := d.artifacts.Latest(kind)
		if path == "" {
			fmt.Fprintf(&b, "%d. latest %s: none found\n", i+1, kind)
			continue
		}
		fmt.Fprintf(&b, "%d. latest %s: %s\n", i+1, kind, path)
		found++
	}

	if found > 0 {
		b.WriteString("After loading, synthesize: what was in progress, what was decided, and what the next concrete step is.\n")
	} else {
		b.WriteString("No artifacts found; reconstruct state from the event log (events history).\n")
	}
	return b.String()
}

// composeMigration builds the calm payload for a session id change without
// compaction. Context survived; only identifiers moved.
func (d *Detector) composeMigration(previous, current string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session migrated: %s -> %s. Context is intact.\n", previous, current)
	b.WriteString("If a task list was pending, recover it by querying the event log for open drives (events query --event dev_drv_started).\n")
	return b.String()
}

func banner(class Classification, cycle int) string {
	return fmt.Sprintf("Session %s (cycle %d).", class, cycle)
}
