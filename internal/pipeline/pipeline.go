// Package pipeline orchestrates ingestion and question answering over policy
// documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"policyqa/internal/domain"
	"policyqa/internal/registry"
	"policyqa/internal/retriever"
	"policyqa/internal/vectorstore"
)

// State is the lifecycle of one analysis request.
type State int

const (
	StateReceived State = iota
	StateIngesting
	StateIndexed
	StateAnswering
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateIngesting:
		return "ingesting"
	case StateIndexed:
		return "indexed"
	case StateAnswering:
		return "answering"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// noRelevantText is the answer for questions where retrieval found nothing
// above the similarity threshold. A valid answer, not an error.
const noRelevantText = "No relevant information found in the provided documents."

// QuestionResult is the outcome of one question: an answer or an error
// marker, never both.
type QuestionResult struct {
	Question string
	Answer   *domain.Answer
	Err      error
}

// Result is the outcome of one analysis request. Questions is ordered to
// match the input questions regardless of completion order.
type Result struct {
	DocumentID string
	Summary    string
	State      State
	Questions  []QuestionResult
}

// Registry is the slice of the document registry the pipeline needs. A nil
// registry disables the cross-session fast path.
type Registry interface {
	Get(ctx context.Context, id string) (*registry.Record, error)
	MarkIndexed(ctx context.Context, rec registry.Record) error
}

// HealthPinger reports whether the reasoning backend is reachable.
type HealthPinger interface {
	Ping(ctx context.Context) error
}

// Config holds the orchestrator tunables.
type Config struct {
	TopK             int
	MinScore         float64
	MaxConcurrent    int
	Deadline         time.Duration
	SummarySentences int
}

// Pipeline coordinates fetch, chunking, embedding, indexing, retrieval and
// reasoning. Ingestion for one content hash is serialized; question
// answering fans out concurrently against the then read-only index.
type Pipeline struct {
	fetcher    domain.Fetcher
	chunker    domain.Chunker
	embedder   domain.Embedder
	store      *vectorstore.Failover
	retriever  *retriever.Retriever
	reasoner   domain.Reasoner
	summarizer domain.Summarizer
	registry   Registry
	pinger     HealthPinger
	cfg        Config
	log        *slog.Logger

	mu        sync.Mutex
	ingesting map[string]*sync.Mutex
}

// New assembles a pipeline. registry and pinger may be nil.
func New(
	fetcher domain.Fetcher,
	chunker domain.Chunker,
	embedder domain.Embedder,
	store *vectorstore.Failover,
	reasoner domain.Reasoner,
	summarizer domain.Summarizer,
	reg Registry,
	pinger HealthPinger,
	cfg Config,
	log *slog.Logger,
) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.SummarySentences <= 0 {
		cfg.SummarySentences = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		fetcher:    fetcher,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		retriever:  retriever.New(embedder, store, cfg.TopK, cfg.MinScore),
		reasoner:   reasoner,
		summarizer: summarizer,
		registry:   reg,
		pinger:     pinger,
		cfg:        cfg,
		log:        log,
	}
}

// Retriever exposes the pipeline's retriever for secondary consumers such
// as the policy analyzer.
func (p *Pipeline) Retriever() *retriever.Retriever { return p.retriever }

// Run executes one analysis request: ingest the document, then answer the
// questions concurrently. Document-level failures fail the whole request;
// question-level failures become per-question error markers. The returned
// results always have len(questions) entries in input order.
func (p *Pipeline) Run(ctx context.Context, url string, questions []string) (*Result, error) {
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	res := &Result{State: StateIngesting}
	docID, summary, err := p.Ingest(ctx, url)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	res.DocumentID = docID
	res.Summary = summary
	res.State = StateIndexed

	res.State = StateAnswering
	res.Questions = p.answerAll(ctx, docID, questions)
	res.State = StateComplete
	return res, nil
}

// Ingest fetches, chunks, embeds and indexes the document at url, returning
// its content-hash ID and a short overview. Re-ingestion of a known content
// hash whose backend still holds entries is a no-op fast path. All index
// writes complete before Ingest returns, so retrieval that starts afterwards
// observes the full document.
func (p *Pipeline) Ingest(ctx context.Context, url string) (string, string, error) {
	doc, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", "", err
	}

	// One ingestion per content hash at a time.
	lock := p.ingestLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	if p.registry != nil {
		rec, err := p.registry.Get(ctx, doc.ID)
		if err == nil && rec != nil {
			p.store.Assign(doc.ID, rec.Backend)
			if n, err := p.store.Count(ctx, doc.ID); err == nil && n > 0 {
				p.log.Info("document already indexed, skipping ingestion",
					"document", doc.ID, "backend", rec.Backend, "chunks", n)
				return doc.ID, p.summarize(doc.Text), nil
			}
			// The recorded backend holds nothing (a prior session's fallback
			// did not survive the process). Drop the stale pin so this
			// ingestion picks a backend fresh, primary first.
			p.store.Unassign(doc.ID)
		}
	}

	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		return "", "", fmt.Errorf("chunk %s: %w", url, err)
	}
	if len(chunks) == 0 {
		return "", "", fmt.Errorf("%s: %w", url, domain.ErrEmptyDocument)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return "", "", fmt.Errorf("embed %d chunks of %s: %w", len(chunks), url, err)
	}

	if err := p.store.Init(ctx, len(vectors[0])); err != nil {
		return "", "", fmt.Errorf("init index: %w", err)
	}
	entries := make([]domain.IndexEntry, len(chunks))
	for i := range chunks {
		entries[i] = domain.IndexEntry{Chunk: chunks[i], Vector: vectors[i]}
	}
	if err := p.store.Upsert(ctx, entries); err != nil {
		return "", "", fmt.Errorf("index %s: %w", url, err)
	}

	if p.registry != nil {
		if err := p.registry.MarkIndexed(ctx, registry.Record{
			ID:         doc.ID,
			SourceURL:  url,
			ChunkCount: len(chunks),
			Backend:    p.store.Backend(doc.ID),
		}); err != nil {
			p.log.Warn("failed to record ingestion", "document", doc.ID, "error", err)
		}
	}

	p.log.Info("document indexed", "document", doc.ID,
		"chunks", len(chunks), "backend", p.store.Backend(doc.ID))
	return doc.ID, p.summarize(doc.Text), nil
}

// IngestAll ingests several documents, returning their IDs in input order.
// Any failure aborts the batch; partial ingestions stay indexed.
func (p *Pipeline) IngestAll(ctx context.Context, urls []string) ([]string, error) {
	ids := make([]string, len(urls))
	for i, url := range urls {
		id, _, err := p.Ingest(ctx, url)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Answer resolves one question against an already-ingested document.
func (p *Pipeline) Answer(ctx context.Context, documentID, question string) (domain.Answer, error) {
	results, err := p.retriever.Retrieve(ctx, documentID, question, p.cfg.TopK)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(results) == 0 {
		return domain.Answer{Question: question, Text: noRelevantText, Confidence: 0.1}, nil
	}
	return p.reasoner.Answer(ctx, question, results)
}

// answerAll fans questions out concurrently. Each outcome lands in its
// question's slot, so completion order never affects output order, and one
// question's failure never aborts the rest.
func (p *Pipeline) answerAll(ctx context.Context, documentID string, questions []string) []QuestionResult {
	results := make([]QuestionResult, len(questions))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.MaxConcurrent)
	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			ans, err := p.Answer(ctx, documentID, q)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					err = fmt.Errorf("question timed out: %w", err)
				}
				p.log.Warn("question failed", "index", i, "error", err)
				results[i] = QuestionResult{Question: q, Err: err}
				return nil
			}
			results[i] = QuestionResult{Question: q, Answer: &ans}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Health reports the aggregate operational signal: reachability of the
// primary vector backend and the reasoning backend, plus whether the
// session has degraded to the fallback index.
type Health struct {
	Status       string `json:"status"`
	PrimaryIndex bool   `json:"primary_index"`
	Reasoner     bool   `json:"reasoner"`
	Degraded     bool   `json:"degraded"`
}

// CheckHealth probes the external backends. A deliberately memory-only
// setup has no primary to lose, so its absence does not count against the
// aggregate status.
func (p *Pipeline) CheckHealth(ctx context.Context) Health {
	h := Health{
		PrimaryIndex: p.store.PrimaryReachable(ctx),
		Degraded:     p.store.Degraded(),
	}
	if p.pinger != nil {
		h.Reasoner = p.pinger.Ping(ctx) == nil
	}
	primaryOK := h.PrimaryIndex || !p.store.HasPrimary()
	if h.Reasoner && primaryOK && !h.Degraded {
		h.Status = "operational"
	} else {
		h.Status = "degraded"
	}
	return h
}

func (p *Pipeline) summarize(text string) string {
	if p.summarizer == nil {
		return ""
	}
	summary, err := p.summarizer.Summarize(text, p.cfg.SummarySentences)
	if err != nil {
		p.log.Warn("summarization failed", "error", err)
		return ""
	}
	return summary
}

func (p *Pipeline) ingestLock(contentHash string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ingesting == nil {
		p.ingesting = make(map[string]*sync.Mutex)
	}
	lock, ok := p.ingesting[contentHash]
	if !ok {
		lock = new(sync.Mutex)
		p.ingesting[contentHash] = lock
	}
	return lock
}
