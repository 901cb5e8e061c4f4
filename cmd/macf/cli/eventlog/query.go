package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
)

// Filter selects events. All set fields must match (conjunction). The
// breadcrumb-component fields match individual coordinates of the breadcrumb
// string, not the full identity.
type Filter struct {
	// Event matches the event name exactly.
	Event string
	// Cycle matches the c_ breadcrumb component.
	Cycle *int
	// GitHash matches the g_ component (7 hex).
	GitHash string
	// Session matches the s_ component (8 hex).
	Session string
	// Prompt matches the p_ component (8 hex or "none").
	Prompt string
	// After/Before bound the informational timestamp (inclusive).
	After  *float64
	Before *float64
}

// crumbNeedles returns raw substrings that must appear in a matching line.
// Checking these before JSON decode skips the expensive unmarshal for the
// common miss case.
func (f Filter) crumbNeedles() [][]byte {
	var needles [][]byte
	if f.Session != "" {
		needles = append(needles, []byte("s_"+f.Session+"/"))
	}
	if f.Cycle != nil {
		needles = append(needles, fmt.Appendf(nil, "/c_%d/", *f.Cycle))
	}
	if f.GitHash != "" {
		needles = append(needles, []byte("/g_"+f.GitHash+"/"))
	}
	if f.Prompt != "" {
		needles = append(needles, []byte("/p_"+f.Prompt+"/"))
	}
	if f.Event != "" {
		needles = append(needles, []byte(`"event":"`+f.Event+`"`))
	}
	return needles
}

// Matches reports whether the decoded event satisfies the filter.
func (f Filter) Matches(e Event) bool {
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.After != nil && e.Timestamp < *f.After {
		return false
	}
	if f.Before != nil && e.Timestamp > *f.Before {
		return false
	}
	if f.Session != "" || f.Cycle != nil || f.GitHash != "" || f.Prompt != "" {
		c, err := splitCrumb(e.Breadcrumb)
		if err != nil {
			return false
		}
		if f.Session != "" && c.session != f.Session {
			return false
		}
		if f.Cycle != nil && c.cycle != fmt.Sprintf("%d", *f.Cycle) {
			return false
		}
		if f.GitHash != "" && c.git != f.GitHash {
			return false
		}
		if f.Prompt != "" && c.prompt != f.Prompt {
			return false
		}
	}
	return true
}

// crumbParts holds the raw component values of a breadcrumb string. The
// breadcrumb package owns full parsing; queries only need the raw split.
type crumbParts struct {
	session, cycle, git, prompt string
}

func splitCrumb(s string) (crumbParts, error) {
	var p crumbParts
	rest := s
	fields := [4]struct {
		prefix string
		dst    *string
	}{
		{"s_", &p.session},
		{"c_", &p.cycle},
		{"g_", &p.git},
		{"p_", &p.prompt},
	}
	for i, f := range fields {
		idx := bytes.IndexByte([]byte(rest), '/')
		if idx < 0 {
			return p, fmt.Errorf("breadcrumb %q: missing component %d", s, i)
		}
		part := rest[:idx]
		rest = rest[idx+1:]
		if len(part) < len(f.prefix) || part[:len(f.prefix)] != f.prefix {
			return p, fmt.Errorf("breadcrumb %q: component %q lacks prefix %q", s, part, f.prefix)
		}
		*f.dst = part[len(f.prefix):]
	}
	return p, nil
}

// Query streams records matching the filter in append order. Filtering is a
// post-decode pass, but lines missing any breadcrumb needle are skipped
// before decoding.
func (l *Log) Query(f Filter) iter.Seq[Record] {
	needles := f.crumbNeedles()
	return func(yield func(Record) bool) {
		file, err := os.Open(l.path) //nolint:gosec // path from resolver or test override
		if err != nil {
			return
		}
		defer file.Close() //nolint:errcheck // read-only

		r := bufio.NewReaderSize(file, 64*1024)
		var offset int64
		for {
			line, readErr := r.ReadBytes('\n')
			if readErr != nil {
				// EOF with a fragment is a partial tail line; skip either way.
				_ = readErr == io.EOF
				return
			}
			lineOffset := offset
			offset += int64(len(line))

			if !containsAll(line, needles) {
				continue
			}
			var e Event
			if json.Unmarshal(bytes.TrimRight(line, "\n"), &e) != nil {
				continue
			}
			if !f.Matches(e) {
				continue
			}
			if !yield(Record{Offset: lineOffset, Event: e}) {
				return
			}
		}
	}
}

func containsAll(line []byte, needles [][]byte) bool {
	for _, n := range needles {
		if !bytes.Contains(line, n) {
			return false
		}
	}
	return true
}

// SetOp is a set operation over query results.
type SetOp string

const (
	SetUnion        SetOp = "union"
	SetIntersection SetOp = "intersection"
	SetSubtraction  SetOp = "subtraction"
)

// QuerySet runs each filter and combines the result sets. Event identity is
// the file offset; output order is append order regardless of the order the
// inputs produced them. Subtraction is left-associative: the first query
// minus all following ones.
func (l *Log) QuerySet(op SetOp, filters ...Filter) ([]Record, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	sets := make([]map[int64]Record, len(filters))
	for i, f := range filters {
		sets[i] = map[int64]Record{}
		for rec := range l.Query(f) {
			sets[i][rec.Offset] = rec
		}
	}

	keep := map[int64]Record{}
	switch op {
	case SetUnion:
		for _, s := range sets {
			for off, rec := range s {
				keep[off] = rec
			}
		}
	case SetIntersection:
		for off, rec := range sets[0] {
			in := true
			for _, s := range sets[1:] {
				if _, ok := s[off]; !ok {
					in = false
					break
				}
			}
			if in {
				keep[off] = rec
			}
		}
	case SetSubtraction:
		for off, rec := range sets[0] {
			subtracted := false
			for _, s := range sets[1:] {
				if _, ok := s[off]; ok {
					subtracted = true
					break
				}
			}
			if !subtracted {
				keep[off] = rec
			}
		}
	default:
		return nil, fmt.Errorf("unknown set op %q", op)
	}

	// Re-walk the file so output order is append order.
	var out []Record
	for rec := range l.Stream(false) {
		if _, ok := keep[rec.Offset]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
