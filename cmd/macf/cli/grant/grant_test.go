package grant

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/eventlog"
)

const testCrumb = "s_aaaaaaaa/c_1/g_abc1234/p_none/t_1700000000"

func newGate(t *testing.T) *Gate {
	t.Helper()
	return NewGate(eventlog.Open(filepath.Join(t.TempDir(), "agent_events_log.jsonl")))
}

func TestTargetSetCanonicalization(t *testing.T) {
	ts := NewTargetSet("task:42", " task:7 ", "task:42", "")
	assert.Equal(t, TargetSet{"task:7", "task:42"}, ts)
	assert.True(t, ts.Equal(NewTargetSet("task:7", "task:42")))
	assert.True(t, ts.Equal(NewTargetSet("task:42", "task:7")))
}

func TestGrantAuthorizesExactlyOnce(t *testing.T) {
	g := newGate(t)
	issued, err := g.Issue(testCrumb, NewTargetSet("task:42"), "cleanup")
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	gr, ok, err := g.Consume(testCrumb, NewTargetSet("task:42"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, issued.ID, gr.ID)

	// One-shot: the same target set is no longer authorized.
	_, ok, err = g.Consume(testCrumb, NewTargetSet("task:42"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSupersetAndSubsetDoNotAuthorize(t *testing.T) {
	g := newGate(t)
	_, err := g.Issue(testCrumb, NewTargetSet("task:42", "task:43"), "")
	require.NoError(t, err)

	_, ok, err := g.Consume(testCrumb, NewTargetSet("task:42"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = g.Consume(testCrumb, NewTargetSet("task:42", "task:43", "task:44"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = g.Consume(testCrumb, NewTargetSet("task:43", "task:42"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActiveExcludesConsumedAndCleared(t *testing.T) {
	g := newGate(t)
	a, err := g.Issue(testCrumb, NewTargetSet("task:1"), "")
	require.NoError(t, err)
	b, err := g.Issue(testCrumb, NewTargetSet("task:2"), "")
	require.NoError(t, err)
	c, err := g.Issue(testCrumb, NewTargetSet("task:3"), "")
	require.NoError(t, err)

	_, ok, err := g.Consume(testCrumb, NewTargetSet("task:1"))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := g.Clear(testCrumb, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	active := g.Active()
	require.Len(t, active, 1)
	assert.Equal(t, c.ID, active[0].ID)
	_ = a
}

func TestClearAll(t *testing.T) {
	g := newGate(t)
	for _, target := range []string{"task:1", "task:2"} {
		_, err := g.Issue(testCrumb, NewTargetSet(target), "")
		require.NoError(t, err)
	}

	n, err := g.Clear(testCrumb, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, g.Active())
}

func TestOldestMatchingGrantConsumedFirst(t *testing.T) {
	g := newGate(t)
	first, err := g.Issue(testCrumb, NewTargetSet("task:9"), "first")
	require.NoError(t, err)
	_, err = g.Issue(testCrumb, NewTargetSet("task:9"), "second")
	require.NoError(t, err)

	gr, ok, err := g.Consume(testCrumb, NewTargetSet("task:9"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, gr.ID)
	require.Len(t, g.Active(), 1)
}
