package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"policyqa/internal/analyzer"
	"policyqa/internal/chunker"
	"policyqa/internal/config"
	"policyqa/internal/domain"
	"policyqa/internal/embedding/openai"
	"policyqa/internal/embedding/tfidf"
	"policyqa/internal/fetch"
	"policyqa/internal/pipeline"
	"policyqa/internal/reasoner"
	"policyqa/internal/registry"
	"policyqa/internal/summarizer"
	"policyqa/internal/tui"
	"policyqa/internal/vectorstore"
	"policyqa/internal/vectorstore/memory"
	"policyqa/internal/vectorstore/qdrant"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config YAML (default: ./config.yaml, then ~/.config/policyqa/config.yaml)")
	interactive := flag.Bool("tui", false, "Ingest the policy, then open the interactive question console")
	health := flag.Bool("health", false, "Probe the backends and print a health report")
	compare := flag.String("compare", "", "Compare several policies on this question (args are policy URLs)")
	gaps := flag.Bool("gaps", false, "Find coverage gaps across several policies (args are policy URLs)")
	flag.Parse()

	_ = godotenv.Load()

	var cfg *config.AppConfig
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p, reg := buildPipeline(cfg, logger)
	if reg != nil {
		defer reg.Close()
	}
	ctx := context.Background()

	switch {
	case *health:
		printJSON(p.CheckHealth(ctx))
	case *compare != "":
		urls := flag.Args()
		if len(urls) < 2 {
			log.Fatal("usage: policyqa -compare=\"question\" url1 url2 [url3 ...]")
		}
		ids, err := p.IngestAll(ctx, urls)
		if err != nil {
			log.Fatalf("ingestion failed: %v", err)
		}
		a := analyzer.New(p.Retriever(), analyzer.NewRiskEngine())
		cmp, err := a.ComparePolicies(ctx, ids, *compare)
		if err != nil {
			log.Fatalf("comparison failed: %v", err)
		}
		printJSON(cmp)
	case *gaps:
		urls := flag.Args()
		if len(urls) < 2 {
			log.Fatal("usage: policyqa -gaps url1 url2 [url3 ...]")
		}
		ids, err := p.IngestAll(ctx, urls)
		if err != nil {
			log.Fatalf("ingestion failed: %v", err)
		}
		a := analyzer.New(p.Retriever(), analyzer.NewRiskEngine())
		ga, err := a.FindCoverageGaps(ctx, ids)
		if err != nil {
			log.Fatalf("gap analysis failed: %v", err)
		}
		printJSON(ga)
	case *interactive:
		args := flag.Args()
		if len(args) != 1 {
			log.Fatal("usage: policyqa -tui <policy-url>")
		}
		docID, summary, err := p.Ingest(ctx, args[0])
		if err != nil {
			log.Fatalf("ingestion failed: %v", err)
		}
		prog := tea.NewProgram(tui.New(p, docID, summary), tea.WithAltScreen())
		if _, err := prog.Run(); err != nil {
			log.Fatalf("console error: %v", err)
		}
	default:
		args := flag.Args()
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: policyqa [-config=config.yaml] <policy-url> question [question ...]")
			os.Exit(1)
		}
		res, err := p.Run(ctx, args[0], args[1:])
		if err != nil {
			log.Fatalf("analysis failed: %v", err)
		}
		printJSON(toResponse(res))
	}
}

// buildPipeline assembles the components the config selects.
func buildPipeline(cfg *config.AppConfig, logger *slog.Logger) (*pipeline.Pipeline, *registry.Registry) {
	fetcher := fetch.NewHTTPFetcher(fetch.Config{
		Timeout:  time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBytes: cfg.Fetch.MaxBytes,
	})

	ch, err := chunker.NewTextChunker(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		log.Fatalf("invalid chunker config: %v", err)
	}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder()
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			log.Fatal("openai embedder config missing")
		}
		o := cfg.Embedder.OpenAI
		emb, err = openai.NewClient(openai.Config{
			BaseURL:        o.BaseURL,
			APIKeyEnv:      o.APIKeyEnv,
			Model:          o.Model,
			Timeout:        time.Duration(o.TimeoutSecs) * time.Second,
			BatchSize:      o.BatchSize,
			MaxRetries:     o.MaxRetries,
			RequestsPerSec: o.RequestsPerSec,
		})
		if err != nil {
			log.Fatalf("embedder: %v", err)
		}
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var primary domain.VectorStore
	switch cfg.VectorStore.Type {
	case "memory", "":
		// No primary; the fallback serves everything.
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			log.Fatal("qdrant config missing")
		}
		q := cfg.VectorStore.Qdrant
		primary = qdrant.NewStore(qdrant.Config{
			URL:        q.URL,
			APIKeyEnv:  q.APIKeyEnv,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		})
	default:
		log.Fatalf("unknown vector store: %s", cfg.VectorStore.Type)
	}
	store := vectorstore.NewFailover(primary, memory.NewStore(), logger)

	rsn, err := reasoner.NewClient(reasoner.Config{
		BaseURL:         cfg.Reasoner.BaseURL,
		APIKeyEnv:       cfg.Reasoner.APIKeyEnv,
		Model:           cfg.Reasoner.Model,
		Timeout:         time.Duration(cfg.Reasoner.TimeoutSecs) * time.Second,
		MaxTokens:       cfg.Reasoner.MaxTokens,
		Temperature:     cfg.Reasoner.Temperature,
		MaxRetries:      cfg.Reasoner.MaxRetries,
		MaxContextChars: cfg.Reasoner.MaxContextChars,
	})
	if err != nil {
		log.Fatalf("reasoner: %v", err)
	}

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		logger.Warn("document registry unavailable, re-ingestion will not be skipped", "error", err)
		reg = nil
	}

	p := pipeline.New(fetcher, ch, emb, store, rsn, summarizer.NewFrequency(),
		regOrNil(reg), rsn,
		pipeline.Config{
			TopK:             cfg.Pipeline.TopK,
			MinScore:         cfg.Pipeline.MinScore,
			MaxConcurrent:    cfg.Pipeline.MaxConcurrent,
			Deadline:         time.Duration(cfg.Pipeline.DeadlineSecs) * time.Second,
			SummarySentences: cfg.Pipeline.SummarySentences,
		}, logger)
	return p, reg
}

// regOrNil keeps a nil *registry.Registry from becoming a non-nil interface.
func regOrNil(reg *registry.Registry) pipeline.Registry {
	if reg == nil {
		return nil
	}
	return reg
}

type answerResponse struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Citations  []string `json:"citations,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type runResponse struct {
	DocumentID string           `json:"document_id"`
	Summary    string           `json:"summary,omitempty"`
	State      string           `json:"state"`
	Answers    []answerResponse `json:"answers"`
}

func toResponse(res *pipeline.Result) runResponse {
	out := runResponse{
		DocumentID: res.DocumentID,
		Summary:    res.Summary,
		State:      res.State.String(),
		Answers:    make([]answerResponse, len(res.Questions)),
	}
	for i, qr := range res.Questions {
		ar := answerResponse{Question: qr.Question}
		if qr.Err != nil {
			ar.Error = qr.Err.Error()
		} else if qr.Answer != nil {
			ar.Answer = qr.Answer.Text
			ar.Confidence = qr.Answer.Confidence
			for _, c := range qr.Answer.Citations {
				ar.Citations = append(ar.Citations, c.Chunk.ChunkID)
			}
		}
		out.Answers[i] = ar
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
