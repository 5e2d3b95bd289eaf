package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Document-level failures (fetch, empty text) abort
// the whole request; question-level failures are isolated per question.
var (
	// ErrEmptyDocument means extraction produced no usable text.
	ErrEmptyDocument = errors.New("document has no extractable text")

	// ErrEmbeddingUnavailable means the embedding backend could not be
	// reached after retries.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrIndexUnavailable means a vector store backend could not be reached.
	// With a fallback configured it triggers degradation, not failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrReasoningUnavailable means the reasoning backend could not be
	// reached after retries. Fatal for the affected question only.
	ErrReasoningUnavailable = errors.New("reasoning backend unavailable")

	// ErrNotIndexed means retrieval was attempted for a document that has
	// no index entries. Distinct from an empty-but-successful result.
	ErrNotIndexed = errors.New("document not indexed")
)

// FetchError reports a failed document download or an unsupported content
// type. Fatal for the affected document.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
