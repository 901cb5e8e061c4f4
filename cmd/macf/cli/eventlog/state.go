package eventlog

import (
	"sort"
)

// State is the slow-changing view of the log reconstructed up to a point in
// time. Forensics only; never on the hook hot path.
type State struct {
	SessionID  string  `json:"session_id,omitempty"`
	Cycle      int     `json:"cycle"`
	PromptUUID string  `json:"prompt_uuid,omitempty"`
	EventCount int     `json:"event_count"`
	LastEvent  string  `json:"last_event,omitempty"`
	AsOf       float64 `json:"as_of"`
}

// ReconstructStateAt forward-scans the log up to timestamp t and folds the
// session/cycle/prompt fields. O(n) by design.
func (l *Log) ReconstructStateAt(t float64) State {
	st := State{Cycle: 1, AsOf: t}
	for rec := range l.Stream(false) {
		e := rec.Event
		if e.Timestamp > t {
			break
		}
		st.EventCount++
		st.LastEvent = e.Event
		switch e.Event {
		case EventSessionStarted, EventMigrationDetected, EventCompactionDetected:
			if sid, ok := e.StringField("session_id"); ok && sid != "" {
				st.SessionID = sid
			}
			if c, ok := e.IntField("cycle"); ok && c > st.Cycle {
				st.Cycle = c
			}
		case EventDevDrvStarted:
			if p, ok := e.StringField("prompt_uuid"); ok {
				st.PromptUUID = p
			}
		case EventDevDrvEnded:
			st.PromptUUID = ""
		}
	}
	return st
}

// Stats summarizes the log: per-event counts and the covered time range.
type Stats struct {
	Total     int            `json:"total"`
	Malformed int            `json:"malformed"`
	ByEvent   map[string]int `json:"by_event"`
	FirstAt   float64        `json:"first_at,omitempty"`
	LastAt    float64        `json:"last_at,omitempty"`
}

// ComputeStats scans the whole log once.
func (l *Log) ComputeStats() (Stats, error) {
	st := Stats{ByEvent: map[string]int{}}
	for rec := range l.Stream(false) {
		e := rec.Event
		st.Total++
		st.ByEvent[e.Event]++
		if st.FirstAt == 0 || e.Timestamp < st.FirstAt {
			st.FirstAt = e.Timestamp
		}
		if e.Timestamp > st.LastAt {
			st.LastAt = e.Timestamp
		}
	}
	_, malformed, err := l.Integrity()
	if err != nil {
		return st, err
	}
	st.Malformed = malformed
	return st, nil
}

// Gap is a quiet interval between two consecutive events.
type Gap struct {
	AfterEvent  string  `json:"after_event"`
	BeforeEvent string  `json:"before_event"`
	From        float64 `json:"from"`
	To          float64 `json:"to"`
	Seconds     float64 `json:"seconds"`
}

// Gaps returns intervals between consecutive events longer than threshold
// seconds, sorted longest first.
func (l *Log) Gaps(threshold float64) []Gap {
	var gaps []Gap
	var prev *Event
	for rec := range l.Stream(false) {
		e := rec.Event
		if prev != nil {
			if d := e.Timestamp - prev.Timestamp; d > threshold {
				gaps = append(gaps, Gap{
					AfterEvent:  prev.Event,
					BeforeEvent: e.Event,
					From:        prev.Timestamp,
					To:          e.Timestamp,
					Seconds:     d,
				})
			}
		}
		cp := e
		prev = &cp
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Seconds > gaps[j].Seconds })
	return gaps
}

// History returns the most recent limit events, oldest first.
func (l *Log) History(limit int) []Record {
	if limit <= 0 {
		return nil
	}
	var out []Record
	for rec := range l.Stream(true) {
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	// Reverse stream yielded newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LatestMatching returns the newest record matching the filter, scanning
// backward so the common "most recent X" lookups stay cheap.
func (l *Log) LatestMatching(f Filter) (Record, bool) {
	for rec := range l.Stream(true) {
		if f.Matches(rec.Event) {
			return rec, true
		}
	}
	return Record{}, false
}
