package eventlog

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func seedQueryLog(t *testing.T) *Log {
	t.Helper()
	l := tempLog(t)
	rows := []Event{
		{Timestamp: 10, Event: "session_started", Breadcrumb: "s_aaaaaaaa/c_1/g_1111111/p_none/t_10", Data: map[string]any{"session_id": "S1"}},
		{Timestamp: 20, Event: "dev_drv_started", Breadcrumb: "s_aaaaaaaa/c_1/g_1111111/p_deadbeef/t_20"},
		{Timestamp: 30, Event: "compaction_detected", Breadcrumb: "s_bbbbbbbb/c_2/g_2222222/p_none/t_30"},
		{Timestamp: 40, Event: "dev_drv_started", Breadcrumb: "s_bbbbbbbb/c_2/g_2222222/p_cafebabe/t_40"},
		{Timestamp: 50, Event: "dev_drv_ended", Breadcrumb: "s_bbbbbbbb/c_2/g_2222222/p_cafebabe/t_50"},
	}
	for _, e := range rows {
		require.NoError(t, l.Append(e))
	}
	return l
}

func collect(l *Log, f Filter) []Record {
	var out []Record
	for rec := range l.Query(f) {
		out = append(out, rec)
	}
	return out
}

func TestQueryByEventName(t *testing.T) {
	l := seedQueryLog(t)
	got := collect(l, Filter{Event: "dev_drv_started"})
	require.Len(t, got, 2)
}

func TestQueryByCycle(t *testing.T) {
	l := seedQueryLog(t)
	cycle := 2
	got := collect(l, Filter{Cycle: &cycle})
	require.Len(t, got, 3)
	for _, rec := range got {
		require.Contains(t, rec.Event.Breadcrumb, "/c_2/")
	}
}

func TestQueryConjunction(t *testing.T) {
	l := seedQueryLog(t)
	cycle := 2
	got := collect(l, Filter{Event: "dev_drv_started", Cycle: &cycle})
	require.Len(t, got, 1)
	require.Equal(t, float64(40), got[0].Event.Timestamp)
}

func TestQueryByTimestampRange(t *testing.T) {
	l := seedQueryLog(t)
	after, before := 20.0, 40.0
	got := collect(l, Filter{After: &after, Before: &before})
	require.Len(t, got, 3)
}

func TestQueryBySessionAndPrompt(t *testing.T) {
	l := seedQueryLog(t)
	got := collect(l, Filter{Session: "bbbbbbbb", Prompt: "cafebabe"})
	require.Len(t, got, 2)
}

func TestQueryByGitHash(t *testing.T) {
	l := seedQueryLog(t)
	got := collect(l, Filter{GitHash: "1111111"})
	require.Len(t, got, 2)
}

func TestQuerySetUnionPreservesAppendOrder(t *testing.T) {
	l := seedQueryLog(t)
	recs, err := l.QuerySet(SetUnion, Filter{Event: "dev_drv_ended"}, Filter{Event: "session_started"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Append order, not argument order.
	require.Equal(t, "session_started", recs[0].Event.Event)
	require.Equal(t, "dev_drv_ended", recs[1].Event.Event)
}

func TestQuerySetSubtraction(t *testing.T) {
	l := seedQueryLog(t)
	cycle := 2
	recs, err := l.QuerySet(SetSubtraction, Filter{Cycle: &cycle}, Filter{Event: "dev_drv_ended"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		require.NotEqual(t, "dev_drv_ended", rec.Event.Event)
	}
}

// Property tests for the set-operation laws over an arbitrary small log.

func TestQuerySetLaws(t *testing.T) {
	l := tempLog(t)
	names := []string{"alpha", "beta", "gamma"}
	for i := 0; i < 30; i++ {
		e := Event{
			Timestamp:  float64(i),
			Event:      names[i%len(names)],
			Breadcrumb: fmt.Sprintf("s_aaaaaaaa/c_%d/g_1111111/p_none/t_%d", i%3+1, i),
		}
		require.NoError(t, l.Append(e))
	}

	offsets := func(recs []Record) []int64 {
		out := make([]int64, len(recs))
		for i, r := range recs {
			out[i] = r.Offset
		}
		return out
	}

	genFilter := gen.OneConstOf(
		Filter{Event: "alpha"},
		Filter{Event: "beta"},
		Filter{Event: "gamma"},
		Filter{},
	)

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("union(A, A) == A", prop.ForAll(
		func(a Filter) bool {
			u, err := l.QuerySet(SetUnion, a, a)
			if err != nil {
				return false
			}
			single, err := l.QuerySet(SetUnion, a)
			if err != nil {
				return false
			}
			return fmt.Sprint(offsets(u)) == fmt.Sprint(offsets(single))
		},
		genFilter,
	))

	properties.Property("intersection is commutative", prop.ForAll(
		func(a, b Filter) bool {
			ab, err := l.QuerySet(SetIntersection, a, b)
			if err != nil {
				return false
			}
			ba, err := l.QuerySet(SetIntersection, b, a)
			if err != nil {
				return false
			}
			return fmt.Sprint(offsets(ab)) == fmt.Sprint(offsets(ba))
		},
		genFilter, genFilter,
	))

	properties.Property("subtraction result is disjoint from subtrahend", prop.ForAll(
		func(a, b Filter) bool {
			diff, err := l.QuerySet(SetSubtraction, a, b)
			if err != nil {
				return false
			}
			inB := map[int64]bool{}
			for rec := range l.Query(b) {
				inB[rec.Offset] = true
			}
			for _, rec := range diff {
				if inB[rec.Offset] {
					return false
				}
			}
			return true
		},
		genFilter, genFilter,
	))

	properties.TestingRun(t)
}

func TestSplitCrumb(t *testing.T) {
	p, err := splitCrumb("s_deadbeef/c_3/g_abc1234/p_none/t_1700000000")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", p.session)
	require.Equal(t, "3", p.cycle)
	require.Equal(t, "abc1234", p.git)
	require.Equal(t, "none", p.prompt)

	_, err = splitCrumb("not-a-breadcrumb")
	require.Error(t, err)
}

func TestLatestMatching(t *testing.T) {
	l := seedQueryLog(t)
	rec, ok := l.LatestMatching(Filter{Event: "dev_drv_started"})
	require.True(t, ok)
	require.Equal(t, float64(40), rec.Event.Timestamp)

	_, ok = l.LatestMatching(Filter{Event: "does_not_exist"})
	require.False(t, ok)
}
