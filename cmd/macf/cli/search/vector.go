package search

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
)

const vectorCollection = "policies"

// VectorRetriever stores policy sections in a chromem collection with
// pre-computed embeddings. With a persistPath the collection survives
// restarts; an empty path keeps everything in memory.
type VectorRetriever struct {
	db          *chromem.DB
	col         *chromem.Collection
	embedder    Embedder
	persistPath string
}

// NewVectorRetriever opens (or creates) the vector index. persistPath is a
// directory; "" disables persistence.
func NewVectorRetriever(embedder Embedder, persistPath string) (*VectorRetriever, error) {
	var db *chromem.DB
	if persistPath != "" {
		if err := os.MkdirAll(persistPath, 0o700); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(persistPath, "vectors"), true)
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are computed by our embedder, never by chromem itself.
	identity := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be pre-computed")
	}
	col, err := db.GetOrCreateCollection(vectorCollection, nil, identity)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", vectorCollection, err)
	}

	return &VectorRetriever{db: db, col: col, embedder: embedder, persistPath: persistPath}, nil
}

func (r *VectorRetriever) Name() string {
	return "vector/" + r.embedder.Model()
}

// Count returns how many sections are indexed.
func (r *VectorRetriever) Count() int {
	return r.col.Count()
}

// Build embeds and upserts every document.
func (r *VectorRetriever) Build(ctx context.Context, docs iter.Seq[Document]) error {
	var batch []chromem.Document
	for doc := range docs {
		// Embedding dominates build time; a caller on a deadline must not
		// wait out the whole corpus.
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := r.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", doc.ID, err)
		}
		batch = append(batch, chromem.Document{
			ID:      doc.ID,
			Content: doc.Text,
			Metadata: map[string]string{
				"policy":   doc.Policy,
				"section":  doc.Section,
				"question": doc.Question,
			},
			Embedding: vec,
		})
	}
	if len(batch) == 0 {
		return nil
	}
	if err := r.col.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("indexing documents: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest sections by cosine
// distance (1 - similarity), ascending.
func (r *VectorRetriever) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if r.col.Count() == 0 {
		return nil, nil
	}
	if limit > r.col.Count() {
		limit = r.col.Count()
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.col.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			Policy:   res.Metadata["policy"],
			Section:  res.Metadata["section"],
			Question: res.Metadata["question"],
			Distance: 1 - float64(res.Similarity),
		})
	}
	return hits, nil
}
