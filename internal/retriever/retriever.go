// Package retriever turns a question into the top-K relevant chunks of one
// document.
package retriever

import (
	"context"
	"fmt"

	"policyqa/internal/domain"
)

// Retriever embeds a question and searches the vector store scoped to a
// single document. Scoping is enforced by the store's search contract, so a
// retrieval for document A can never surface chunks of document B.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
	topK     int
	minScore float64
}

// New creates a retriever. topK is the default result size when a call
// passes k <= 0; minScore drops results below the similarity threshold
// (0 keeps everything).
func New(embedder domain.Embedder, store domain.VectorStore, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{embedder: embedder, store: store, topK: topK, minScore: minScore}
}

// Retrieve returns up to k chunks of the document ranked by similarity to
// the question. A document with no index entries fails with ErrNotIndexed;
// an indexed document where nothing clears the threshold returns an empty,
// non-error result. The two are deliberately distinguishable.
func (r *Retriever) Retrieve(ctx context.Context, documentID, question string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = r.topK
	}
	n, err := r.store.Count(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("count entries for %s: %w", documentID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", documentID, domain.ErrNotIndexed)
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := r.store.Search(ctx, documentID, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", documentID, err)
	}
	if r.minScore <= 0 {
		return results, nil
	}
	kept := results[:0]
	for _, res := range results {
		if res.Score >= r.minScore {
			kept = append(kept, res)
		}
	}
	return kept, nil
}
