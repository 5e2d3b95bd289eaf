// Package fetch downloads policy documents and turns them into text.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"policyqa/internal/domain"
	"policyqa/internal/fetch/extract"
)

var _ domain.Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher downloads a document over HTTP and extracts its text. The
// document ID is the content hash, so the same bytes always resolve to the
// same document regardless of URL.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration
	MaxBytes int64
}

// NewHTTPFetcher creates a fetcher with the given limits.
func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 32 << 20
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads the URL and returns the extracted document. Unreachable
// hosts, non-2xx statuses and unsupported content types all fail with a
// FetchError; extraction that yields no text fails with ErrEmptyDocument.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Document{}, &domain.FetchError{URL: url, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Document{}, &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Document{}, &domain.FetchError{URL: url, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return domain.Document{}, &domain.FetchError{URL: url, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return domain.Document{}, &domain.FetchError{URL: url, Err: fmt.Errorf("document exceeds %d bytes", f.maxBytes)}
	}

	text, err := extract.Text(resp.Header.Get("Content-Type"), url, data)
	if err != nil {
		return domain.Document{}, &domain.FetchError{URL: url, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, fmt.Errorf("%s: %w", url, domain.ErrEmptyDocument)
	}

	return domain.Document{
		ID:        ContentHash(data),
		SourceURL: url,
		Text:      text,
	}, nil
}

// ContentHash fingerprints raw document bytes. Truncated hex keeps IDs
// readable in logs and payload filters.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
