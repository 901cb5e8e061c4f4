package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/search"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Request{Op: OpRecommend, Query: "how do I delete a task", Limit: 3, Namespace: NamespacePolicies}
	require.NoError(t, WriteFrame(&buf, in))

	var out Request
	require.NoError(t, ReadFrame(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	var out Request
	require.Error(t, ReadFrame(buf, &out))
}

func TestRequestValidation(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		kind string
	}{
		{"unknown op", Request{Op: "search", Query: "long enough query", Limit: 1, Namespace: NamespacePolicies}, ErrKindInvalidQuery},
		{"short query", Request{Op: OpRecommend, Query: "short", Limit: 1, Namespace: NamespacePolicies}, ErrKindInvalidQuery},
		{"zero limit", Request{Op: OpRecommend, Query: "long enough query", Limit: 0, Namespace: NamespacePolicies}, ErrKindInvalidQuery},
		{"bad namespace", Request{Op: OpRecommend, Query: "long enough query", Limit: 1, Namespace: "tasks"}, ErrKindInvalidQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errBody := tc.req.Validate()
			require.NotNil(t, errBody)
			assert.Equal(t, tc.kind, errBody.Kind)
		})
	}

	ok := Request{Op: OpRecommend, Query: "long enough query", Limit: 1, Namespace: NamespacePolicies}
	assert.Nil(t, ok.Validate())
}

func writePolicies(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	content := `## Destructive operations

Question: How do I delete a task?
Task deletion requires a grant issued via the grant command.
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "safety.md"), []byte(content), 0o600))
	return root
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	vec, err := search.NewVectorRetriever(search.NewEmbedder(), "")
	require.NoError(t, err)
	retriever := search.NewHybridRetriever(vec, search.NewLexicalRetriever())

	socket := filepath.Join(dir, "search.sock")
	srv := NewServer(socket, filepath.Join(dir, "search.pid"), retriever)
	return srv, socket
}

func TestHandleIndexMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.Handle(context.Background(), Request{Op: OpRecommend, Query: "how do I delete a task", Limit: 3, Namespace: NamespacePolicies})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrKindIndexMissing, resp.Error.Kind)
}

func TestServeAndRecommendOverSocket(t *testing.T) {
	srv, socket := newTestServer(t)
	require.NoError(t, srv.LoadIndex(context.Background(), writePolicies(t)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return probeSocket(socket, 20*time.Millisecond)
	}, time.Second, 10*time.Millisecond)

	resp, err := Recommend(context.Background(), socket, Request{
		Op: OpRecommend, Query: "how do I delete a task", Limit: 3, Namespace: NamespacePolicies,
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "safety.md", resp.Results[0].Policy)
	assert.NotEmpty(t, resp.Retriever)

	// Invalid request over the wire gets a structured error, not a hangup.
	resp, err = Recommend(context.Background(), socket, Request{Op: OpRecommend, Query: "short", Limit: 1, Namespace: NamespacePolicies})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrKindInvalidQuery, resp.Error.Kind)

	cancel()
	require.NoError(t, <-serveErr)
	_, statErr := os.Stat(socket)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRecommendConnectFailureIsFast(t *testing.T) {
	start := time.Now()
	_, err := Recommend(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), Request{
		Op: OpRecommend, Query: "how do I delete a task", Limit: 1, Namespace: NamespacePolicies,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCheckStatusNotRunning(t *testing.T) {
	dir := t.TempDir()
	st := CheckStatus(filepath.Join(dir, "search.sock"), filepath.Join(dir, "search.pid"))
	assert.False(t, st.Running)
	assert.False(t, st.Listable)
	assert.Zero(t, st.PID)
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.pid")
	require.NoError(t, writePIDFile(path, os.Getpid()))
	assert.Equal(t, os.Getpid(), ReadPID(path))
	assert.True(t, PIDAlive(os.Getpid()))
	assert.Zero(t, ReadPID(filepath.Join(t.TempDir(), "missing.pid")))
}
