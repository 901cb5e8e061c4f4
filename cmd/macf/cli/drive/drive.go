// Package drive measures agent activity intervals. A dev drive spans a user
// prompt to the following stop; a deleg drive spans a delegation start to the
// matching subagent stop. Intervals live entirely in the event log as
// started/ended pairs; nothing is held in memory between hook invocations.
package drive

import (
	"fmt"

	"maceff.io/macf/cmd/macf/cli/eventlog"
)

// Kind selects which interval family an operation works on.
type Kind string

const (
	Dev   Kind = "dev"
	Deleg Kind = "deleg"
)

func (k Kind) startedEvent() string {
	if k == Deleg {
		return eventlog.EventDelegDrvStarted
	}
	return eventlog.EventDevDrvStarted
}

func (k Kind) endedEvent() string {
	if k == Deleg {
		return eventlog.EventDelegDrvEnded
	}
	return eventlog.EventDevDrvEnded
}

// correlationField names the data key that pairs a started with its ended.
func (k Kind) correlationField() string {
	if k == Deleg {
		return "task_id"
	}
	return "prompt_uuid"
}

// Tracker opens and closes drive intervals against one event log.
type Tracker struct {
	log *eventlog.Log
}

func NewTracker(log *eventlog.Log) *Tracker {
	return &Tracker{log: log}
}

// Open appends a started event. correlationID is the prompt uuid for dev
// drives and the delegation task id for deleg drives.
func (t *Tracker) Open(kind Kind, crumb, sessionID, correlationID string, extra map[string]any) (eventlog.Event, error) {
	data := map[string]any{
		"session_id":            sessionID,
		kind.correlationField(): correlationID,
	}
	for k, v := range extra {
		data[k] = v
	}
	return t.log.AppendNow(kind.startedEvent(), crumb, data, nil)
}

// Close finds the latest started event for sessionID with no matching ended
// event and appends the ended event with duration_seconds. Returns false when
// no open interval exists; that is not an error, stops without a preceding
// prompt happen on resumed sessions.
func (t *Tracker) Close(kind Kind, crumb, sessionID string) (eventlog.Event, bool, error) {
	open, ok := t.openInterval(kind, sessionID)
	if !ok {
		return eventlog.Event{}, false, nil
	}

	duration := eventlog.Now() - open.Event.Timestamp
	if duration < 0 {
		duration = 0
	}
	data := map[string]any{
		"session_id":       sessionID,
		"duration_seconds": duration,
	}
	if cid, ok := open.Event.StringField(kind.correlationField()); ok {
		data[kind.correlationField()] = cid
	}
	e, err := t.log.AppendNow(kind.endedEvent(), crumb, data, nil)
	return e, err == nil, err
}

// openInterval scans backward for the newest started whose correlation id has
// no later ended.
func (t *Tracker) openInterval(kind Kind, sessionID string) (eventlog.Record, bool) {
	ended := map[string]bool{}
	for rec := range t.log.Stream(true) {
		sid, _ := rec.Event.StringField("session_id")
		if sessionID != "" && sid != "" && sid != sessionID {
			continue
		}
		switch rec.Event.Event {
		case kind.endedEvent():
			if cid, ok := rec.Event.StringField(kind.correlationField()); ok {
				ended[cid] = true
			}
		case kind.startedEvent():
			cid, _ := rec.Event.StringField(kind.correlationField())
			if ended[cid] {
				continue
			}
			return rec, true
		}
	}
	return eventlog.Record{}, false
}

// OpenInterval describes an unmatched started event.
type OpenInterval struct {
	CorrelationID string  `json:"correlation_id"`
	StartedAt     float64 `json:"started_at"`
}

// KindStats aggregates one interval family.
type KindStats struct {
	Completed    int            `json:"completed"`
	TotalSeconds float64        `json:"total_seconds"`
	Open         []OpenInterval `json:"open,omitempty"`
}

// Stats covers both families for one session ("" means all sessions).
type Stats struct {
	SessionID string    `json:"session_id,omitempty"`
	Dev       KindStats `json:"dev"`
	Deleg     KindStats `json:"deleg"`
}

// ComputeStats pairs started/ended events in append order. Orphaned starts
// are reported as open intervals, never silently closed.
func (t *Tracker) ComputeStats(sessionID string) Stats {
	s := Stats{SessionID: sessionID}
	s.Dev = t.kindStats(Dev, sessionID)
	s.Deleg = t.kindStats(Deleg, sessionID)
	return s
}

func (t *Tracker) kindStats(kind Kind, sessionID string) KindStats {
	var st KindStats
	open := map[string]float64{} // correlation id -> started timestamp
	var order []string

	for rec := range t.log.Stream(false) {
		sid, _ := rec.Event.StringField("session_id")
		if sessionID != "" && sid != "" && sid != sessionID {
			continue
		}
		switch rec.Event.Event {
		case kind.startedEvent():
			cid, _ := rec.Event.StringField(kind.correlationField())
			if _, dup := open[cid]; !dup {
				order = append(order, cid)
			}
			open[cid] = rec.Event.Timestamp
		case kind.endedEvent():
			cid, _ := rec.Event.StringField(kind.correlationField())
			started, ok := open[cid]
			if !ok {
				continue
			}
			delete(open, cid)
			st.Completed++
			if d, ok := rec.Event.Float64Field("duration_seconds"); ok {
				st.TotalSeconds += d
			} else if rec.Event.Timestamp > started {
				st.TotalSeconds += rec.Event.Timestamp - started
			}
		}
	}

	for _, cid := range order {
		if started, ok := open[cid]; ok {
			st.Open = append(st.Open, OpenInterval{CorrelationID: cid, StartedAt: started})
		}
	}
	return st
}

// Summary renders stats as a short human line for the stop hook.
func (s Stats) Summary() string {
	line := fmt.Sprintf("drives: %d dev (%.0fs total)", s.Dev.Completed, s.Dev.TotalSeconds)
	if s.Deleg.Completed > 0 || len(s.Deleg.Open) > 0 {
		line += fmt.Sprintf(", %d deleg (%.0fs total)", s.Deleg.Completed, s.Deleg.TotalSeconds)
	}
	if n := len(s.Dev.Open) + len(s.Deleg.Open); n > 0 {
		line += fmt.Sprintf(", %d open", n)
	}
	return line
}
