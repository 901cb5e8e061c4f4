// Package redact scrubs secrets from text before it is persisted to the
// event log. Prompt text and tool inputs routinely contain pasted API keys
// and tokens; the log is long-lived and mode 0600 is not a substitute for
// not storing them.
package redact

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// secretPattern matches candidate high-entropy runs.
var secretPattern = regexp.MustCompile(`[A-Za-z0-9/+_=-]{10,}`)

// entropyThreshold is the minimum Shannon entropy for a candidate run to be
// treated as a secret. High enough to pass over ordinary identifiers, low
// enough to catch typical API keys.
const entropyThreshold = 4.5

const placeholder = "REDACTED"

var (
	detector     *detect.Detector
	detectorOnce sync.Once
)

func getDetector() *detect.Detector {
	detectorOnce.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return
		}
		detector = d
	})
	return detector
}

type region struct{ start, end int }

// String replaces secrets in s with "REDACTED". Two detectors run over the
// input and a region flagged by either is redacted: a Shannon-entropy scan
// over candidate runs, and the gitleaks rule set for known secret formats.
func String(s string) string {
	var regions []region

	for _, loc := range secretPattern.FindAllStringIndex(s, -1) {
		if shannonEntropy(s[loc[0]:loc[1]]) > entropyThreshold {
			regions = append(regions, region{loc[0], loc[1]})
		}
	}

	if d := getDetector(); d != nil {
		for _, f := range d.DetectString(s) {
			if f.Secret == "" {
				continue
			}
			from := 0
			for {
				idx := strings.Index(s[from:], f.Secret)
				if idx < 0 {
					break
				}
				abs := from + idx
				regions = append(regions, region{abs, abs + len(f.Secret)})
				from = abs + len(f.Secret)
			}
		}
	}

	if len(regions) == 0 {
		return s
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })
	merged := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
		} else {
			merged = append(merged, r)
		}
	}

	var b strings.Builder
	prev := 0
	for _, r := range merged {
		b.WriteString(s[prev:r.start])
		b.WriteString(placeholder)
		prev = r.end
	}
	b.WriteString(s[prev:])
	return b.String()
}

// EventData returns a copy of data with every string value scrubbed,
// recursing into nested maps and slices. Identifier-shaped keys (anything
// ending in "id"/"ids", plus "breadcrumb") are left alone: session ids and
// uuids look exactly like the secrets the entropy scan hunts for, and
// redacting them would destroy forensic correlation.
func EventData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out, _ := scrubValue(data).(map[string]any)
	return out
}

func scrubValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if skipKey(k) {
				out[k] = child
				continue
			}
			out[k] = scrubValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = scrubValue(child)
		}
		return out
	case string:
		return String(val)
	default:
		return v
	}
}

func skipKey(key string) bool {
	lower := strings.ToLower(key)
	if lower == "breadcrumb" || lower == "signature" {
		return true
	}
	return strings.HasSuffix(lower, "id") || strings.HasSuffix(lower, "ids") || strings.HasSuffix(lower, "uuid")
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := range len(s) {
		freq[s[i]]++
	}
	length := float64(len(s))
	var entropy float64
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}
