// Package eventlog implements the append-only forensic event store: a JSONL
// file with advisory-locked single-writer appends, lock-free streaming
// readers, breadcrumb-filtered queries, and set operations over query
// results.
//
// Events are totally ordered by append order (equivalently, by file offset).
// Timestamps are informational and must not be used as a sort key across
// writers.
package eventlog

import (
	"time"
)

// Event is one immutable log entry. Events are never edited or deleted.
type Event struct {
	Timestamp  float64        `json:"timestamp"`
	Event      string         `json:"event"`
	Breadcrumb string         `json:"breadcrumb"`
	Data       map[string]any `json:"data,omitempty"`
	HookInput  map[string]any `json:"hook_input,omitempty"`
}

// Record pairs an event with its file offset. The offset is the event's
// identity for set operations.
type Record struct {
	Offset int64
	Event  Event
}

// Well-known event names appended by the hook runtime and CLI.
const (
	EventSessionStarted      = "session_started"
	EventSessionEnded        = "session_ended"
	EventCompactionDetected  = "compaction_detected"
	EventMigrationDetected   = "migration_detected"
	EventDevDrvStarted       = "dev_drv_started"
	EventDevDrvEnded         = "dev_drv_ended"
	EventDelegDrvStarted     = "deleg_drv_started"
	EventDelegDrvEnded       = "deleg_drv_ended"
	EventToolCallStarted     = "tool_call_started"
	EventToolCallCompleted   = "tool_call_completed"
	EventPreCompactWarning   = "pre_compact_warning"
	EventNotificationRecv    = "notification_received"
	EventPermissionRequested = "permission_requested"
	EventGrantIssued         = "grant_issued"
	EventGrantConsumed       = "grant_consumed"
	EventGrantCleared        = "grant_cleared"
	EventFallbackUsed        = "fallback_used"
	EventHookError           = "hook_error"
	EventSchemaViolation     = "schema_violation"
)

// Now returns the current time as float64 epoch seconds, the timestamp
// representation used throughout the log.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// New builds an event stamped with the current time.
func New(name, breadcrumb string, data, hookInput map[string]any) Event {
	return Event{
		Timestamp:  Now(),
		Event:      name,
		Breadcrumb: breadcrumb,
		Data:       data,
		HookInput:  hookInput,
	}
}

// Float64Field reads a float64 out of the event data, tolerating the
// json-decoded any types.
func (e Event) Float64Field(key string) (float64, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// IntField reads an integer out of the event data.
func (e Event) IntField(key string) (int, bool) {
	f, ok := e.Float64Field(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// StringField reads a string out of the event data.
func (e Event) StringField(key string) (string, bool) {
	v, ok := e.Data[key].(string)
	return v, ok
}

// StringSliceField reads a string slice out of the event data, converting
// from the []any produced by JSON decoding.
func (e Event) StringSliceField(key string) ([]string, bool) {
	raw, ok := e.Data[key].([]any)
	if !ok {
		if s, ok := e.Data[key].([]string); ok {
			return s, true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
