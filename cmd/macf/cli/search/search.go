// Package search implements the policy recommendation retriever: a hybrid of
// a chromem vector index and a small BM25 lexical index over policy
// documents, merged into one list ranked by ascending distance.
package search

import (
	"context"
	"iter"
)

// Document is one indexed policy section.
type Document struct {
	ID       string `json:"id"`
	Policy   string `json:"policy"`             // policy file, relative to the policies root
	Section  string `json:"section,omitempty"`  // heading within the policy
	Question string `json:"question,omitempty"` // the question this section answers, when stated
	Text     string `json:"text"`
}

// Hit is one ranked result. Distance is in [0, 1], lower is closer.
type Hit struct {
	Policy   string  `json:"policy"`
	Section  string  `json:"section,omitempty"`
	Question string  `json:"question,omitempty"`
	Distance float64 `json:"distance"`
}

// Retriever is the abstract index contract. Implementations are free in how
// they store and score; they must return hits sorted by ascending distance.
type Retriever interface {
	Name() string
	Build(ctx context.Context, docs iter.Seq[Document]) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}
