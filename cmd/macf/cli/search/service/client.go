package service

import (
	"context"
	"fmt"
	"net"
	"time"
)

// connectBudget is the hook-side connect attempt; past it, callers fall back
// to in-process search or skip recommendations entirely.
const connectBudget = 50 * time.Millisecond

// Recommend sends one request to the daemon. The connect attempt is bounded
// by connectBudget; the exchange itself by the remaining ctx deadline (or
// connDeadline when ctx has none).
func Recommend(ctx context.Context, socketPath string, req Request) (Response, error) {
	dialer := net.Dialer{Timeout: connectBudget}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connecting to search service: %w", err)
	}
	defer conn.Close() //nolint:errcheck // one-shot connection

	deadline := time.Now().Add(connDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := WriteFrame(conn, req); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Status describes daemon liveness for the status command.
type Status struct {
	Running  bool   `json:"running"`
	PID      int    `json:"pid,omitempty"`
	Socket   string `json:"socket"`
	Listable bool   `json:"socket_connectable"`
}

// CheckStatus combines pidfile liveness with a socket probe.
func CheckStatus(socketPath, pidPath string) Status {
	st := Status{Socket: socketPath}
	if pid := ReadPID(pidPath); pid > 0 && PIDAlive(pid) {
		st.PID = pid
		st.Running = true
	}
	st.Listable = probeSocket(socketPath, connectBudget)
	st.Running = st.Running && st.Listable
	return st
}
