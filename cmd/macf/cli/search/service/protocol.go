// Package service runs the long-lived search daemon on a unix domain
// socket. Keeping the retriever resident avoids the index/model load cost on
// every hook invocation; the wire protocol is a single length-prefixed JSON
// request and response per connection.
package service

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"maceff.io/macf/cmd/macf/cli/search"
)

// Frame and request limits.
const (
	// maxFrameBytes bounds a single frame; queries are short and responses
	// are a handful of hits.
	maxFrameBytes = 1 << 20

	// MinQueryLen rejects queries too short to rank meaningfully.
	MinQueryLen = 10

	// OpRecommend is the only operation the service understands.
	OpRecommend = "recommend"

	// NamespacePolicies is the only namespace currently indexed.
	NamespacePolicies = "policies"
)

// Error kinds in responses.
const (
	ErrKindInvalidQuery = "invalid_query"
	ErrKindIndexMissing = "index_missing"
	ErrKindInternal     = "internal"
)

// Request is the client frame.
type Request struct {
	Op        string `json:"op"`
	Query     string `json:"query"`
	Limit     int    `json:"limit"`
	Namespace string `json:"namespace"`
}

// Validate applies the protocol constraints.
func (r Request) Validate() *ErrorBody {
	if r.Op != OpRecommend {
		return &ErrorBody{Kind: ErrKindInvalidQuery, Message: fmt.Sprintf("unknown op %q", r.Op)}
	}
	if len(r.Query) < MinQueryLen {
		return &ErrorBody{Kind: ErrKindInvalidQuery, Message: fmt.Sprintf("query must be at least %d characters", MinQueryLen)}
	}
	if r.Limit < 1 {
		return &ErrorBody{Kind: ErrKindInvalidQuery, Message: "limit must be at least 1"}
	}
	if r.Namespace != NamespacePolicies {
		return &ErrorBody{Kind: ErrKindInvalidQuery, Message: fmt.Sprintf("unknown namespace %q", r.Namespace)}
	}
	return nil
}

// ErrorBody is the structured error payload.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is the server frame. Either Results or Error is set.
type Response struct {
	Results   []search.Hit `json:"results,omitempty"`
	Retriever string       `json:"retriever,omitempty"`
	TookMS    int64        `json:"took_ms"`
	Error     *ErrorBody   `json:"error,omitempty"`
}

// WriteFrame writes a uint32 big-endian length prefix followed by the JSON
// encoding of v.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame into v.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxFrameBytes {
		return fmt.Errorf("invalid frame length %d", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("reading frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}
