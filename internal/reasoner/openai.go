// Package reasoner synthesizes answers from retrieved policy clauses via an
// OpenAI-compatible chat-completions backend.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"policyqa/internal/domain"
)

var _ domain.Reasoner = (*Client)(nil)

const systemPrompt = `You are an expert insurance policy analyst. Answer strictly from the policy clauses provided.

EXTRACTION RULES:
1. Extract exact numerical values: days, months, percentages, amounts.
2. Mention specific conditions or exclusions that apply.
3. Reference plan variants (Plan A, Plan B) when the clauses distinguish them.
4. If coverage exists with conditions, state "Yes, with conditions:" then explain.
5. If the clauses do not contain the answer, say so instead of guessing.`

// Client calls a chat-completions API to answer questions over retrieved
// context. The prompt is bounded: when the concatenated clause text would
// exceed maxContextChars, the lowest-similarity clauses are dropped whole.
// A clause is never cut mid-text.
type Client struct {
	baseURL         string
	apiKey          string
	model           string
	maxTokens       int
	temperature     float64
	maxRetries      int
	maxContextChars int
	client          *http.Client
}

// Config configures the reasoning client.
type Config struct {
	BaseURL         string
	APIKeyEnv       string
	Model           string
	Timeout         time.Duration
	MaxTokens       int
	Temperature     float64
	MaxRetries      int
	MaxContextChars int
}

// NewClient creates a reasoning client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 200
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 12000
	}
	return &Client{
		baseURL:         cfg.BaseURL,
		apiKey:          key,
		model:           cfg.Model,
		maxTokens:       cfg.MaxTokens,
		temperature:     cfg.Temperature,
		maxRetries:      cfg.MaxRetries,
		maxContextChars: cfg.MaxContextChars,
		client:          &http.Client{Timeout: t},
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Answer builds the bounded prompt and asks the backend. Network failures
// and 5xx responses are retried with backoff, then surface as
// ErrReasoningUnavailable; an uncertain but successful answer is a valid
// low-confidence Answer, never an error.
func (c *Client) Answer(ctx context.Context, question string, contextChunks []domain.SearchResult) (domain.Answer, error) {
	used := c.fitContext(contextChunks)
	prompt := BuildPrompt(question, used)

	body, _ := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return domain.Answer{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return domain.Answer{}, ctx.Err()
			}
			if attempt < c.maxRetries {
				sleep(ctx, retryDelay(attempt))
				continue
			}
			break
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				sleep(ctx, retryDelay(attempt))
				continue
			}
			break
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("reasoning request failed: %s", resp.Status)
			if attempt < c.maxRetries {
				sleep(ctx, retryDelay(attempt))
				continue
			}
			break
		}
		if resp.StatusCode >= 300 {
			return domain.Answer{}, fmt.Errorf("reasoning request failed: %s: %s", resp.Status, payload)
		}

		var out chatResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return domain.Answer{}, fmt.Errorf("decode reasoning response: %w", err)
		}
		if out.Error != nil {
			return domain.Answer{}, fmt.Errorf("reasoning backend: %s", out.Error.Message)
		}
		if len(out.Choices) == 0 {
			return domain.Answer{}, fmt.Errorf("reasoning backend returned no choices")
		}
		text := strings.TrimSpace(out.Choices[0].Message.Content)
		return domain.Answer{
			Question:   question,
			Text:       text,
			Confidence: assessConfidence(text),
			Citations:  used,
		}, nil
	}
	return domain.Answer{}, fmt.Errorf("%w: %v", domain.ErrReasoningUnavailable, lastErr)
}

// Ping checks the backend is reachable without running inference.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReasoningUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrReasoningUnavailable, resp.StatusCode)
	}
	return nil
}

// fitContext keeps the highest-similarity chunks that fit the budget.
// Results arrive ordered by descending similarity, so a prefix is exactly
// "drop lowest-similarity first".
func (c *Client) fitContext(results []domain.SearchResult) []domain.SearchResult {
	total := 0
	for i, r := range results {
		total += len(r.Chunk.Text)
		if total > c.maxContextChars {
			if i == 0 {
				// A single oversized clause still goes through whole.
				return results[:1]
			}
			return results[:i]
		}
	}
	return results
}

// BuildPrompt renders the question and its ordered context clauses.
func BuildPrompt(question string, contextChunks []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString("Based on these insurance policy clauses, answer the question precisely.\n\nPOLICY CLAUSES:\n")
	if len(contextChunks) == 0 {
		b.WriteString("(no relevant clauses found)\n")
	}
	for i, r := range contextChunks {
		cleaned := strings.Join(strings.Fields(r.Chunk.Text), " ")
		fmt.Fprintf(&b, "Clause %d: %s\n\n", i+1, cleaned)
	}
	b.WriteString("QUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// assessConfidence scores an answer on simple lexical signals: definitive
// policy language raises it, hedging lowers it.
func assessConfidence(answer string) float64 {
	confidence := 0.7
	lower := strings.ToLower(answer)
	for _, term := range []string{"policy", "coverage", "clause", "covered"} {
		if strings.Contains(lower, term) {
			confidence += 0.1
			break
		}
	}
	for _, term := range []string{"yes", "no", "covered", "not covered"} {
		if strings.Contains(lower, term) {
			confidence += 0.1
			break
		}
	}
	for _, term := range []string{"unclear", "uncertain", "depends", "not contain"} {
		if strings.Contains(lower, term) {
			confidence -= 0.2
			break
		}
	}
	if confidence > 0.95 {
		confidence = 0.95
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
