package domain

import "context"

// Document is a policy document fetched from a remote source. ID is derived
// from the content hash, so re-submitting the same URL (or the same bytes
// under a different URL) resolves to the same document.
type Document struct {
	ID        string
	SourceURL string
	Text      string
}

// Chunk is a contiguous span of document text, the unit of embedding and
// retrieval. Start and End are byte offsets into the document text;
// neighbouring chunks overlap by the configured amount but together cover
// the whole document.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Index      int
	Text       string
	Start      int
	End        int
}

// IndexEntry pairs a chunk with its embedding vector for storage.
type IndexEntry struct {
	Chunk  Chunk
	Vector []float64
}

// SearchResult is a matching chunk with a similarity score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Answer is the reasoner's response to one question. Citations are the
// context chunks the answer was grounded on, highest similarity first.
type Answer struct {
	Question   string
	Text       string
	Confidence float64
	Citations  []SearchResult
}

// Fetcher downloads a document and extracts its text content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Chunker splits a document into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Embedder converts free text into fixed-dimension vectors. Returned vectors
// are L2-normalized, so cosine similarity reduces to a dot product and
// callers never re-normalize. EmbedMany preserves input order.
// Dimension is only meaningful after the first successful embedding.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float64, error)
}

// VectorStore persists chunk vectors and supports similarity search scoped
// to a single document. Upsert of an entry with an already-stored
// (document_id, chunk_id) replaces it, so repeated ingestion is idempotent.
// Search results are ordered by descending score, ties broken by ascending
// chunk index.
type VectorStore interface {
	Name() string
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, documentID string, vector []float64, topK int) ([]SearchResult, error)
	Count(ctx context.Context, documentID string) (int, error)
	Clear(ctx context.Context) error
}

// Reasoner produces an answer to a question from retrieved context chunks.
type Reasoner interface {
	Answer(ctx context.Context, question string, contextChunks []SearchResult) (Answer, error)
}

// Summarizer produces a brief overview of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
