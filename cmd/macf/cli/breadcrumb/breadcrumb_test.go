package breadcrumb

import (
	"context"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/testutil"
)

func TestParseRoundTrip(t *testing.T) {
	c := Components{Session: "deadbeef", Cycle: 7, Git: "abc1234", Prompt: "cafebabe", Epoch: 1700000000}
	got, err := Parse(c.String())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestParseNoneAndUnknown(t *testing.T) {
	got, err := Parse("s_00000000/c_1/g_unknown/p_none/t_0")
	require.NoError(t, err)
	assert.Equal(t, GitUnknown, got.Git)
	assert.Equal(t, PromptNone, got.Prompt)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
		field string
	}{
		{"wrong arity", "s_deadbeef/c_1/g_abc1234/p_none", "structure"},
		{"bad session prefix", "x_deadbeef/c_1/g_abc1234/p_none/t_0", "session"},
		{"short session", "s_dead/c_1/g_abc1234/p_none/t_0", "session"},
		{"uppercase session", "s_DEADBEEF/c_1/g_abc1234/p_none/t_0", "session"},
		{"zero cycle", "s_deadbeef/c_0/g_abc1234/p_none/t_0", "cycle"},
		{"non-numeric cycle", "s_deadbeef/c_x/g_abc1234/p_none/t_0", "cycle"},
		{"bad git length", "s_deadbeef/c_1/g_abcd/p_none/t_0", "git"},
		{"bad prompt", "s_deadbeef/c_1/g_abc1234/p_zz/t_0", "prompt"},
		{"negative epoch", "s_deadbeef/c_1/g_abc1234/p_none/t_-5", "epoch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.field, perr.Component)
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "c0ffee12", ShortID("c0ffee12-3456-7890-abcd-ef0123456789"))
	assert.Equal(t, "", ShortID(""))
	// Non-hex inputs hash to stable 8 hex.
	a := ShortID("session-one")
	b := ShortID("session-two")
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ShortID("session-one"))
}

func newTestAssembler(now *time.Time, hash string) *Assembler {
	return &Assembler{
		now:     func() time.Time { return *now },
		gitHash: func(context.Context, string) string { return hash },
	}
}

func TestCurrentComposesAllComponents(t *testing.T) {
	now := time.Unix(1700000123, 0)
	a := newTestAssembler(&now, "abc1234")

	got := a.Current(context.Background(), CurrentInput{
		SessionID:  "deadbeef-0000-1111-2222-333344445555",
		Cycle:      3,
		PromptUUID: "cafebabe-6666-7777-8888-999900001111",
	})
	require.Equal(t, "s_deadbeef/c_3/g_abc1234/p_cafebabe/t_1700000123", got)
}

func TestCurrentTTLCache(t *testing.T) {
	now := time.Unix(1700000000, 0)
	calls := 0
	a := &Assembler{
		now: func() time.Time { return now },
		gitHash: func(context.Context, string) string {
			calls++
			return "abc1234"
		},
	}
	in := CurrentInput{SessionID: "deadbeef00", Cycle: 1}

	first := a.Current(context.Background(), in)
	second := a.Current(context.Background(), in)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Second)
	_ = a.Current(context.Background(), in)
	assert.Equal(t, 2, calls)
}

func TestCurrentDefaults(t *testing.T) {
	now := time.Unix(42, 0)
	a := newTestAssembler(&now, GitUnknown)

	got := a.Current(context.Background(), CurrentInput{})
	c, err := Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "00000000", c.Session)
	assert.Equal(t, 1, c.Cycle)
	assert.Equal(t, GitUnknown, c.Git)
	assert.Equal(t, PromptNone, c.Prompt)
}

func TestResolveGitHashEmptyRepoIsUnknown(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir)

	// No commits yet, so HEAD resolves nowhere.
	assert.Equal(t, GitUnknown, resolveGitHash(context.Background(), dir))
}

func TestResolveGitHashReadsCommittedHead(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepo(t, dir)
	testutil.WriteFile(t, dir, "README.md", "hello\n")

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	got := resolveGitHash(context.Background(), dir)
	require.Equal(t, strings.ToLower(hash.String())[:7], got)
}

func TestInvalidate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := newTestAssembler(&now, "abc1234")

	first := a.Current(context.Background(), CurrentInput{SessionID: "deadbeef00", Cycle: 1})
	a.Invalidate()
	second := a.Current(context.Background(), CurrentInput{SessionID: "deadbeef00", Cycle: 2, PromptUUID: "cafebabe00"})
	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "/c_2/")
	assert.Contains(t, second, "/p_cafebabe/")
}
