// Package grant implements one-shot authorization for gated destructive
// operations. A grant names an exact target set; a gated operation is
// authorized only by an active grant whose target set equals the operation's
// target set. Supersets and subsets do not authorize. Grants live in the
// event log until consumed or cleared; there is no time-based expiry.
package grant

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"maceff.io/macf/cmd/macf/cli/eventlog"
)

// TargetSet is a canonicalized set of target tokens (sorted, deduplicated).
// Tokens are opaque strings such as "task:42".
type TargetSet []string

// NewTargetSet canonicalizes items into a TargetSet.
func NewTargetSet(items ...string) TargetSet {
	seen := map[string]bool{}
	var out TargetSet
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Equal reports exact set equality.
func (t TargetSet) Equal(o TargetSet) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

func (t TargetSet) String() string {
	return strings.Join(t, ",")
}

// Grant is an active authorization.
type Grant struct {
	ID      string    `json:"grant_id"`
	Targets TargetSet `json:"target_set"`
	Reason  string    `json:"reason,omitempty"`
	Issued  float64   `json:"issued_at"`
}

// Gate issues, consumes and clears grants against one event log.
type Gate struct {
	log *eventlog.Log
}

func NewGate(log *eventlog.Log) *Gate {
	return &Gate{log: log}
}

// Issue records a new grant and returns it.
func (g *Gate) Issue(crumb string, targets TargetSet, reason string) (Grant, error) {
	gr := Grant{ID: uuid.NewString(), Targets: targets, Reason: reason}
	data := map[string]any{
		"grant_id":   gr.ID,
		"target_set": []string(targets),
	}
	if reason != "" {
		data["reason"] = reason
	}
	e, err := g.log.AppendNow(eventlog.EventGrantIssued, crumb, data, nil)
	if err != nil {
		return Grant{}, err
	}
	gr.Issued = e.Timestamp
	return gr, nil
}

// Active returns grants issued but neither consumed nor cleared, in issue
// order.
func (g *Gate) Active() []Grant {
	dead := map[string]bool{}
	var active []Grant

	for rec := range g.log.Stream(false) {
		switch rec.Event.Event {
		case eventlog.EventGrantIssued:
			id, _ := rec.Event.StringField("grant_id")
			if id == "" {
				continue
			}
			targets, _ := rec.Event.StringSliceField("target_set")
			reason, _ := rec.Event.StringField("reason")
			active = append(active, Grant{
				ID:      id,
				Targets: NewTargetSet(targets...),
				Reason:  reason,
				Issued:  rec.Event.Timestamp,
			})
		case eventlog.EventGrantConsumed, eventlog.EventGrantCleared:
			if id, ok := rec.Event.StringField("grant_id"); ok {
				dead[id] = true
			}
		}
	}

	out := active[:0]
	for _, gr := range active {
		if !dead[gr.ID] {
			out = append(out, gr)
		}
	}
	return out
}

// Consume finds the oldest active grant whose target set exactly equals
// targets, records the consumption and returns it. ok is false when no grant
// matches; that is the deny path, not an error.
func (g *Gate) Consume(crumb string, targets TargetSet) (Grant, bool, error) {
	for _, gr := range g.Active() {
		if !gr.Targets.Equal(targets) {
			continue
		}
		_, err := g.log.AppendNow(eventlog.EventGrantConsumed, crumb, map[string]any{
			"grant_id":   gr.ID,
			"target_set": []string(gr.Targets),
		}, nil)
		if err != nil {
			return Grant{}, false, err
		}
		return gr, true, nil
	}
	return Grant{}, false, nil
}

// Clear deactivates grants without consuming them. grantID "" clears all
// active grants. Returns how many were cleared.
func (g *Gate) Clear(crumb, grantID string) (int, error) {
	cleared := 0
	for _, gr := range g.Active() {
		if grantID != "" && gr.ID != grantID {
			continue
		}
		_, err := g.log.AppendNow(eventlog.EventGrantCleared, crumb, map[string]any{
			"grant_id": gr.ID,
		}, nil)
		if err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}
