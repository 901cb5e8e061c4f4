package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// Embedder maps text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Embedding endpoint overrides. Without MACF_EMBED_URL the deterministic
// local embedder is used; no network dependency is required for search to
// work.
const (
	EnvEmbedURL   = "MACF_EMBED_URL"
	EnvEmbedModel = "MACF_EMBED_MODEL"

	defaultEmbedModel = "nomic-embed-text"
	embedTimeout      = 30 * time.Second
)

// NewEmbedder picks the embedder from the environment.
func NewEmbedder() Embedder {
	if url := os.Getenv(EnvEmbedURL); url != "" {
		model := os.Getenv(EnvEmbedModel)
		if model == "" {
			model = defaultEmbedModel
		}
		return &httpEmbedder{url: url, model: model, client: &http.Client{Timeout: embedTimeout}}
	}
	return hashEmbedder{}
}

// httpEmbedder calls an Ollama-compatible /api/embeddings endpoint.
type httpEmbedder struct {
	url    string
	model  string
	client *http.Client
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *httpEmbedder) Model() string { return e.model }

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.url, "/")+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned empty vector")
	}
	return out.Embedding, nil
}

// hashEmbedder is a deterministic feature-hash embedding. It is weaker than
// a learned model but needs no external process, loads instantly, and gives
// stable cosine geometry: shared tokens pull documents together.
type hashEmbedder struct{}

const hashDims = 256

func (hashEmbedder) Model() string { return "feature-hash-256" }

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDims)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := sum % hashDims
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// tokenize lowercases and splits on non-alphanumerics.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
