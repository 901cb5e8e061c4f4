// Package reconcile derives the current identifier tuple (session id, cycle,
// prompt uuid) from the event log plus the current hook input. The tuple is
// recomputed on demand and never stored; given the same log prefix and hook
// input it is deterministic.
//
// The host-provided session id is authoritative for the current invocation.
// Everything else comes from events. The filesystem is consulted only as an
// explicitly recorded last-resort fallback.
package reconcile

import (
	"fmt"
	"os"
	"path/filepath"

	"maceff.io/macf/cmd/macf/cli/breadcrumb"
	"maceff.io/macf/cmd/macf/cli/eventlog"
)

// Tuple is the derived identifier set.
type Tuple struct {
	SessionID  string `json:"session_id"`
	Cycle      int    `json:"cycle"`
	PromptUUID string `json:"prompt_uuid"`
}

// Current derives the tuple for this invocation. hookSessionID is the
// session id from the hook input ("" when absent); transcriptDir enables the
// mtime fallback and may be "".
func Current(log *eventlog.Log, hookSessionID, transcriptDir string) Tuple {
	t := Tuple{
		SessionID:  hookSessionID,
		Cycle:      Cycle(log),
		PromptUUID: OpenPromptUUID(log),
	}
	if t.SessionID == "" {
		t.SessionID = LastSessionID(log)
	}
	if t.SessionID == "" && transcriptDir != "" {
		if sid := fallbackSessionFromTranscripts(log, transcriptDir); sid != "" {
			t.SessionID = sid
		}
	}
	return t
}

// Cycle returns the current cycle: the value stamped on the latest
// compaction_detected event, or 1 when none exists. Migrations never change
// it.
func Cycle(log *eventlog.Log) int {
	rec, ok := log.LatestMatching(eventlog.Filter{Event: eventlog.EventCompactionDetected})
	if !ok {
		return 1
	}
	if c, ok := rec.Event.IntField("cycle"); ok && c >= 1 {
		return c
	}
	// An unstamped marker still counts as one boundary.
	count := 0
	for range log.Query(eventlog.Filter{Event: eventlog.EventCompactionDetected}) {
		count++
	}
	return count + 1
}

// LastSessionID returns the session id recorded by the most recent
// session-boundary event, or "".
func LastSessionID(log *eventlog.Log) string {
	for rec := range log.Stream(true) {
		switch rec.Event.Event {
		case eventlog.EventSessionStarted, eventlog.EventMigrationDetected, eventlog.EventCompactionDetected:
			if sid, ok := rec.Event.StringField("session_id"); ok && sid != "" {
				return sid
			}
		}
	}
	return ""
}

// OpenPromptUUID returns the prompt uuid of the most recent dev_drv_started
// with no matching dev_drv_ended after it, or "none".
func OpenPromptUUID(log *eventlog.Log) string {
	ended := map[string]bool{}
	for rec := range log.Stream(true) {
		switch rec.Event.Event {
		case eventlog.EventDevDrvEnded:
			if p, ok := rec.Event.StringField("prompt_uuid"); ok {
				ended[p] = true
			}
		case eventlog.EventDevDrvStarted:
			p, ok := rec.Event.StringField("prompt_uuid")
			if !ok || p == "" || ended[p] {
				continue
			}
			return p
		}
	}
	return breadcrumb.PromptNone
}

// fallbackSessionFromTranscripts picks the newest *.jsonl under dir by
// mtime. Non-authoritative: the fallback is warned about on stderr and
// recorded as a fallback_used event so it is never silent.
func fallbackSessionFromTranscripts(log *eventlog.Log, dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = entry.Name()
			newestMod = mod
		}
	}
	if newest == "" {
		return ""
	}

	sid := newest[:len(newest)-len(".jsonl")]
	fmt.Fprintf(os.Stderr, "Warning: session id derived from transcript mtime scan of %s (non-authoritative)\n", dir)
	_, _ = log.AppendNow(eventlog.EventFallbackUsed, "", map[string]any{
		"fallback": "transcript_mtime_session_id",
		"dir":      dir,
		"derived":  sid,
	}, nil)
	return sid
}
