// Package ingest imports markdown documents into an owner's memory.
// Each heading section becomes one record whose subject is the heading
// path. Re-ingesting a document rewrites its sections in place, since
// records are keyed by owner, subject, and predicate.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/sincerelyyyash/memory-mind/internal/memory"
)

// notesPredicate relates a heading path to its section text.
const notesPredicate = "notes"

// RecordCreator stores one record, reporting acceptance. *memory.Client
// satisfies it.
type RecordCreator interface {
	Create(ctx context.Context, rec memory.Record) (memory.Record, bool)
}

// MarkdownIngester parses markdown documents into memory records.
type MarkdownIngester struct {
	client  RecordCreator
	ownerID string
	logger  *slog.Logger
}

// NewMarkdownIngester creates a markdown ingester storing records for
// the given owner.
func NewMarkdownIngester(client RecordCreator, ownerID string, logger *slog.Logger) *MarkdownIngester {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownIngester{
		client:  client,
		ownerID: ownerID,
		logger:  logger,
	}
}

// Chunk represents a semantic unit from the document.
type Chunk struct {
	Key     string
	Content string
	Section string
}

// IngestFile reads and processes a markdown file into records. It
// returns how many sections the server accepted.
func (m *MarkdownIngester) IngestFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	chunks := parseMarkdown(file)
	return m.ingestChunks(ctx, chunks), nil
}

// IngestString processes markdown content from a string.
func (m *MarkdownIngester) IngestString(ctx context.Context, content string) int {
	return m.ingestChunks(ctx, parseMarkdown(strings.NewReader(content)))
}

// ingestChunks stores each chunk, counting acceptances. Rejected chunks
// are logged and skipped.
func (m *MarkdownIngester) ingestChunks(ctx context.Context, chunks []Chunk) int {
	count := 0
	for _, chunk := range chunks {
		rec := memory.Record{
			Subject:   chunk.Key,
			Predicate: notesPredicate,
			Object:    chunk.Content,
			OwnerID:   m.ownerID,
		}
		if _, ok := m.client.Create(ctx, rec); !ok {
			m.logger.Warn("section not stored", "key", chunk.Key)
			continue
		}
		count++
	}

	m.logger.Info("document ingested", "sections", len(chunks), "stored", count)
	return count
}

// parseMarkdown extracts semantic chunks from markdown content. Heading
// levels one through three open a new chunk keyed by the heading path;
// code fences are carried through verbatim.
func parseMarkdown(r io.Reader) []Chunk {
	var chunks []Chunk
	scanner := bufio.NewScanner(r)

	var currentH1, currentH2 string
	var currentContent strings.Builder
	var lastKey string

	flushChunk := func() {
		content := strings.TrimSpace(currentContent.String())
		if content != "" && lastKey != "" {
			chunks = append(chunks, Chunk{
				Key:     lastKey,
				Content: content,
				Section: currentH1,
			})
		}
		currentContent.Reset()
	}

	h1Pattern := regexp.MustCompile(`^#\s+(.+)$`)
	h2Pattern := regexp.MustCompile(`^##\s+(.+)$`)
	h3Pattern := regexp.MustCompile(`^###\s+(.+)$`)
	codeBlockPattern := regexp.MustCompile("^```")

	inCodeBlock := false

	for scanner.Scan() {
		line := scanner.Text()

		// Track code blocks
		if codeBlockPattern.MatchString(line) {
			inCodeBlock = !inCodeBlock
			currentContent.WriteString(line + "\n")
			continue
		}

		if inCodeBlock {
			currentContent.WriteString(line + "\n")
			continue
		}

		// Check for headers
		if m := h1Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			currentH1 = m[1]
			currentH2 = ""
			lastKey = slugify(currentH1)
			continue
		}

		if m := h2Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			currentH2 = m[1]
			if currentH1 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(currentH2)
			} else {
				lastKey = slugify(currentH2)
			}
			continue
		}

		if m := h3Pattern.FindStringSubmatch(line); m != nil {
			flushChunk()
			h3 := m[1]
			if currentH2 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(currentH2) + "/" + slugify(h3)
			} else if currentH1 != "" {
				lastKey = slugify(currentH1) + "/" + slugify(h3)
			} else {
				lastKey = slugify(h3)
			}
			continue
		}

		// Accumulate content
		if line != "" || currentContent.Len() > 0 {
			currentContent.WriteString(line + "\n")
		}
	}

	// Flush final chunk
	flushChunk()

	return chunks
}

// slugify converts a header to a key-friendly format.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}
