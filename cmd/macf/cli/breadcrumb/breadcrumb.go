// Package breadcrumb composes and parses the forensic coordinate string
// stamped on every event:
//
//	s_<8hex>/c_<int>/g_<7hex>/p_<8hex|none>/t_<int>
//
// Components are semantic coordinates, not identity keys; many events share
// one breadcrumb. Composition caches the expensive parts (git subprocess)
// for one second so rapid hook bursts pay the cost once.
package breadcrumb

import (
	"context"
	"fmt"
	"hash/fnv"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
)

// gitTimeout bounds the one permitted subprocess per composition.
const gitTimeout = 250 * time.Millisecond

// cacheTTL deduplicates composition cost across rapid hook calls.
const cacheTTL = time.Second

// PromptNone marks an absent prompt UUID.
const PromptNone = "none"

// GitUnknown marks an unresolvable git hash.
const GitUnknown = "unknown"

// Components is a parsed breadcrumb.
type Components struct {
	Session string // 8 hex
	Cycle   int
	Git     string // 7 hex or "unknown"
	Prompt  string // 8 hex or "none"
	Epoch   int64
}

// String re-composes the canonical form.
func (c Components) String() string {
	return fmt.Sprintf("s_%s/c_%d/g_%s/p_%s/t_%d", c.Session, c.Cycle, c.Git, c.Prompt, c.Epoch)
}

// ParseError describes which component of a breadcrumb failed to parse.
// There are no partial parses.
type ParseError struct {
	Input     string
	Component string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("breadcrumb %q: bad %s component: %s", e.Input, e.Component, e.Reason)
}

// Parse validates and decomposes a breadcrumb string.
func Parse(s string) (Components, error) {
	fail := func(component, reason string) (Components, error) {
		return Components{}, &ParseError{Input: s, Component: component, Reason: reason}
	}

	parts := strings.Split(s, "/")
	if len(parts) != 5 {
		return fail("structure", fmt.Sprintf("want 5 components, got %d", len(parts)))
	}

	var c Components

	session, ok := strings.CutPrefix(parts[0], "s_")
	if !ok {
		return fail("session", "missing s_ prefix")
	}
	if !isHex(session) || len(session) != 8 {
		return fail("session", "want 8 lowercase hex")
	}
	c.Session = session

	cycleStr, ok := strings.CutPrefix(parts[1], "c_")
	if !ok {
		return fail("cycle", "missing c_ prefix")
	}
	cycle, err := strconv.Atoi(cycleStr)
	if err != nil || cycle < 1 {
		return fail("cycle", "want positive integer")
	}
	c.Cycle = cycle

	git, ok := strings.CutPrefix(parts[2], "g_")
	if !ok {
		return fail("git", "missing g_ prefix")
	}
	if git != GitUnknown && (!isHex(git) || len(git) != 7) {
		return fail("git", `want 7 lowercase hex or "unknown"`)
	}
	c.Git = git

	prompt, ok := strings.CutPrefix(parts[3], "p_")
	if !ok {
		return fail("prompt", "missing p_ prefix")
	}
	if prompt != PromptNone && (!isHex(prompt) || len(prompt) != 8) {
		return fail("prompt", `want 8 lowercase hex or "none"`)
	}
	c.Prompt = prompt

	epochStr, ok := strings.CutPrefix(parts[4], "t_")
	if !ok {
		return fail("epoch", "missing t_ prefix")
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil || epoch < 0 {
		return fail("epoch", "want non-negative integer seconds")
	}
	c.Epoch = epoch

	return c, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ShortID reduces an arbitrary host identifier (session id, prompt uuid) to
// the 8-hex breadcrumb form. UUID-shaped inputs keep their leading hex;
// anything else is hashed so distinct inputs stay distinguishable.
func ShortID(id string) string {
	if id == "" {
		return ""
	}
	norm := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(norm) >= 8 && isHex(norm[:8]) {
		return norm[:8]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return fmt.Sprintf("%08x", h.Sum32())
}

// CurrentInput carries the ingredients the assembler does not compute
// itself. Cycle and PromptUUID come from the reconciler; SessionID from the
// hook input.
type CurrentInput struct {
	SessionID  string
	Cycle      int
	PromptUUID string // "" or "none" when absent
	WorkDir    string // where to resolve the git hash; "" means cwd
}

// Assembler composes breadcrumbs with a 1 s TTL cache over the git lookup.
// One assembler per process; the cache is process-local.
type Assembler struct {
	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	now      func() time.Time
	gitHash  func(ctx context.Context, dir string) string
}

// NewAssembler returns an assembler using the real clock and git resolution.
func NewAssembler() *Assembler {
	return &Assembler{now: time.Now, gitHash: resolveGitHash}
}

// Current composes the breadcrumb for in. Within the TTL window the
// previously composed string is returned unchanged, timestamp included:
// events landing in the same second share coordinates by design.
func (a *Assembler) Current(ctx context.Context, in CurrentInput) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" && a.now().Sub(a.cachedAt) < cacheTTL {
		return a.cached
	}

	prompt := in.PromptUUID
	if prompt == "" || prompt == PromptNone {
		prompt = PromptNone
	} else {
		prompt = ShortID(prompt)
	}

	session := ShortID(in.SessionID)
	if session == "" {
		session = "00000000"
	}

	cycle := in.Cycle
	if cycle < 1 {
		cycle = 1
	}

	c := Components{
		Session: session,
		Cycle:   cycle,
		Git:     a.gitHash(ctx, in.WorkDir),
		Prompt:  prompt,
		Epoch:   a.now().Unix(),
	}

	a.cached = c.String()
	a.cachedAt = a.now()
	return a.cached
}

// Invalidate drops the cache. Handlers call this after the prompt UUID or
// cycle changes mid-process.
func (a *Assembler) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = ""
}

// resolveGitHash returns the short HEAD hash for dir. Primary path is the
// bounded `git rev-parse` subprocess; when git is missing or slow, go-git
// reads HEAD directly; failing both, "unknown".
func resolveGitHash(ctx context.Context, dir string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--short=7", "HEAD")
	if dir != "" {
		cmd.Dir = dir
	}
	if out, err := cmd.Output(); err == nil {
		hash := strings.ToLower(strings.TrimSpace(string(out)))
		if len(hash) >= 7 && isHex(hash[:7]) {
			return hash[:7]
		}
	}

	openDir := dir
	if openDir == "" {
		openDir = "."
	}
	repo, err := gogit.PlainOpenWithOptions(openDir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return GitUnknown
	}
	head, err := repo.Head()
	if err != nil {
		return GitUnknown
	}
	return head.Hash().String()[:7]
}
