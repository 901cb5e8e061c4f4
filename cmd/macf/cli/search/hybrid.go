package search

import (
	"context"
	"fmt"
	"iter"
	"sort"
)

// HybridRetriever merges the vector and lexical retrievers into one ranked
// list. Each side's distances are min-max normalized before merging so
// neither scale dominates; a section found by both sides keeps its smaller
// normalized distance.
type HybridRetriever struct {
	vector  *VectorRetriever
	lexical *LexicalRetriever
}

func NewHybridRetriever(vector *VectorRetriever, lexical *LexicalRetriever) *HybridRetriever {
	return &HybridRetriever{vector: vector, lexical: lexical}
}

func (r *HybridRetriever) Name() string {
	return fmt.Sprintf("hybrid(%s,%s)", r.vector.Name(), r.lexical.Name())
}

// Count returns how many sections are indexed.
func (r *HybridRetriever) Count() int { return r.lexical.Count() }

func (r *HybridRetriever) Build(ctx context.Context, docs iter.Seq[Document]) error {
	// Both sides iterate the sequence; collect once.
	var all []Document
	for doc := range docs {
		all = append(all, doc)
	}
	seq := func(yield func(Document) bool) {
		for _, doc := range all {
			if !yield(doc) {
				return
			}
		}
	}
	if err := r.vector.Build(ctx, seq); err != nil {
		return err
	}
	return r.lexical.Build(ctx, seq)
}

func (r *HybridRetriever) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	// Overfetch each side so the merge has candidates to choose from.
	fetch := limit * 2
	if fetch < 10 {
		fetch = 10
	}

	vhits, err := r.vector.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	lhits, err := r.lexical.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}

	merged := map[string]Hit{}
	for _, h := range append(normalize(vhits), normalize(lhits)...) {
		key := h.Policy + "\x00" + h.Section
		if prev, ok := merged[key]; !ok || h.Distance < prev.Distance {
			merged[key] = h
		}
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Policy+out[a].Section < out[b].Policy+out[b].Section
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// normalize rescales distances to [0, 1] via min-max. A single hit maps
// to 0.
func normalize(hits []Hit) []Hit {
	if len(hits) == 0 {
		return hits
	}
	lo, hi := hits[0].Distance, hits[0].Distance
	for _, h := range hits[1:] {
		if h.Distance < lo {
			lo = h.Distance
		}
		if h.Distance > hi {
			hi = h.Distance
		}
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	if hi == lo {
		for i := range out {
			out[i].Distance = 0
		}
		return out
	}
	for i := range out {
		out[i].Distance = (out[i].Distance - lo) / (hi - lo)
	}
	return out
}
