package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"policyqa/internal/domain"
)

// TextChunker splits document text into overlapping character windows,
// preferring paragraph and sentence boundaries over hard cuts. A hard cut
// only happens when no boundary falls in the second half of the window, so
// clauses are rarely severed mid-sentence.
type TextChunker struct {
	chunkSize int
	overlap   int
	sentence  *regexp.Regexp
}

// NewTextChunker creates a chunker. Requires 0 <= overlap < chunkSize.
func NewTextChunker(chunkSize, overlap int) (*TextChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &TextChunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		sentence:  regexp.MustCompile(`[.!?][\s")\]]`),
	}, nil
}

// Chunk splits the document into ordered chunks. The spans cover the full
// text with no gaps; neighbouring spans share up to overlap bytes. Empty or
// whitespace-only text yields zero chunks; the caller treats that as an
// ingestion failure.
func (c *TextChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := document.Text
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var chunks []domain.Chunk
	start := 0
	idx := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.cutPoint(text, start, end)
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Index:      idx,
			Text:       text[start:end],
			Start:      start,
			End:        end,
		})
		if end == len(text) {
			break
		}
		// Chunk ends are rune-aligned; the overlapped start must be too.
		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
		idx++
	}
	return chunks, nil
}

// cutPoint picks where to end a chunk that starts at start and would hard-cut
// at limit. Paragraph breaks win over sentence ends; either is only taken
// from the second half of the window.
func (c *TextChunker) cutPoint(text string, start, limit int) int {
	window := text[start:limit]
	half := c.chunkSize / 2

	if p := strings.LastIndex(window, "\n\n"); p > half {
		return start + p + 2
	}
	if locs := c.sentence.FindAllStringIndex(window, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		if last[0] > half {
			return start + last[1]
		}
	}
	// Hard cut, kept on a rune boundary.
	for limit > start && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return limit
}
