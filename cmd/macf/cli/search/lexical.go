package search

import (
	"context"
	"iter"
	"math"
	"sort"
)

// BM25 constants, standard Robertson values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// LexicalRetriever is an in-memory BM25 index. It exists to catch exact
// terminology the vector side smooths over (command names, event names,
// error strings). The corpus is small (policy sections), so the whole index
// is rebuilt on Build and held in maps.
type LexicalRetriever struct {
	docs      []Document
	termFreqs []map[string]int // per doc
	docLens   []int
	avgDocLen float64
	docFreq   map[string]int // term -> number of docs containing it
}

func NewLexicalRetriever() *LexicalRetriever {
	return &LexicalRetriever{docFreq: map[string]int{}}
}

func (r *LexicalRetriever) Name() string { return "lexical/bm25" }

// Count returns how many sections are indexed.
func (r *LexicalRetriever) Count() int { return len(r.docs) }

func (r *LexicalRetriever) Build(_ context.Context, docs iter.Seq[Document]) error {
	r.docs = nil
	r.termFreqs = nil
	r.docLens = nil
	r.docFreq = map[string]int{}

	total := 0
	for doc := range docs {
		tokens := tokenize(doc.Text + " " + doc.Section + " " + doc.Question)
		tf := map[string]int{}
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			r.docFreq[term]++
		}
		r.docs = append(r.docs, doc)
		r.termFreqs = append(r.termFreqs, tf)
		r.docLens = append(r.docLens, len(tokens))
		total += len(tokens)
	}
	if len(r.docs) > 0 {
		r.avgDocLen = float64(total) / float64(len(r.docs))
	}
	return nil
}

func (r *LexicalRetriever) Search(_ context.Context, query string, limit int) ([]Hit, error) {
	if len(r.docs) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	n := float64(len(r.docs))

	type scored struct {
		idx   int
		score float64
	}
	var matches []scored
	for i := range r.docs {
		var score float64
		for _, term := range queryTerms {
			tf := float64(r.termFreqs[i][term])
			if tf == 0 {
				continue
			}
			df := float64(r.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(r.docLens[i])/r.avgDocLen))
			score += idf * norm
		}
		if score > 0 {
			matches = append(matches, scored{idx: i, score: score})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(a, b int) bool { return matches[a].score > matches[b].score })
	if limit < len(matches) {
		matches = matches[:limit]
	}

	// BM25 scores are unbounded; map to a distance in [0, 1] relative to the
	// best match so the hybrid merge can compare them with cosine distances.
	best := matches[0].score
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		doc := r.docs[m.idx]
		hits = append(hits, Hit{
			Policy:   doc.Policy,
			Section:  doc.Section,
			Question: doc.Question,
			Distance: 1 - m.score/best,
		})
	}
	return hits, nil
}
