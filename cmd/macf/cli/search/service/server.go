package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"maceff.io/macf/cmd/macf/cli/logging"
	"maceff.io/macf/cmd/macf/cli/search"
)

// connDeadline bounds one request/response exchange.
const connDeadline = 5 * time.Second

// Server owns the socket and the resident retriever.
type Server struct {
	socketPath string
	pidPath    string
	retriever  search.Retriever

	mu       sync.Mutex
	listener net.Listener
	indexed  bool
}

// NewServer wires a server; Serve binds and blocks.
func NewServer(socketPath, pidPath string, retriever search.Retriever) *Server {
	return &Server{socketPath: socketPath, pidPath: pidPath, retriever: retriever}
}

// LoadIndex builds the retriever from the policy tree. A missing tree is not
// fatal: the server answers with index_missing until policies appear.
func (s *Server) LoadIndex(ctx context.Context, policiesRoot string) error {
	docs, err := search.LoadPolicies(policiesRoot)
	if err != nil {
		logging.Warn(ctx, "policy index unavailable", "root", policiesRoot, "error", err)
		return nil
	}
	if err := s.retriever.Build(ctx, docs); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	s.mu.Lock()
	s.indexed = true
	s.mu.Unlock()
	return nil
}

// Serve binds the socket, writes the pidfile and accepts connections until
// ctx is cancelled. Each connection carries exactly one request.
func (s *Server) Serve(ctx context.Context) error {
	// A dead previous instance leaves a stale socket behind; binding fails
	// unless it is removed first.
	if _, err := os.Stat(s.socketPath); err == nil {
		if !probeSocket(s.socketPath, 100*time.Millisecond) {
			_ = os.Remove(s.socketPath)
		} else {
			return fmt.Errorf("service already running on %s", s.socketPath)
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	if err := writePIDFile(s.pidPath, os.Getpid()); err != nil {
		_ = listener.Close()
		return err
	}

	logging.Info(ctx, "search service listening", "socket", s.socketPath, "retriever", s.retriever.Name())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			wg.Wait()
			s.cleanup()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close unbinds the socket; Serve returns afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) cleanup() {
	_ = os.Remove(s.socketPath)
	_ = os.Remove(s.pidPath)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck // one-shot connection
	_ = conn.SetDeadline(time.Now().Add(connDeadline))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		_ = WriteFrame(conn, Response{Error: &ErrorBody{Kind: ErrKindInvalidQuery, Message: err.Error()}})
		return
	}
	resp := s.Handle(ctx, req)
	if err := WriteFrame(conn, resp); err != nil {
		logging.Warn(ctx, "failed to write search response", "error", err)
	}
}

// Handle runs one request against the retriever. Exposed so the in-process
// fallback path in hooks can reuse the exact server semantics.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	start := time.Now()

	if errBody := req.Validate(); errBody != nil {
		return Response{Error: errBody, TookMS: time.Since(start).Milliseconds()}
	}

	s.mu.Lock()
	indexed := s.indexed
	s.mu.Unlock()
	if !indexed {
		return Response{
			Error:  &ErrorBody{Kind: ErrKindIndexMissing, Message: "no policy index loaded"},
			TookMS: time.Since(start).Milliseconds(),
		}
	}

	hits, err := s.retriever.Search(ctx, req.Query, req.Limit)
	if err != nil {
		logging.Error(ctx, "search failed", "error", err)
		return Response{
			Error:  &ErrorBody{Kind: ErrKindInternal, Message: err.Error()},
			TookMS: time.Since(start).Milliseconds(),
		}
	}

	return Response{
		Results:   hits,
		Retriever: s.retriever.Name(),
		TookMS:    time.Since(start).Milliseconds(),
	}
}

// probeSocket reports whether something accepts connections at path.
func probeSocket(path string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
