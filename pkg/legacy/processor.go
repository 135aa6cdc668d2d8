// Package legacy is the built-in file processor used in legacy and hybrid
// modes: it reads local text files and emits well-formed knowledge packets
// without involving any MCP server.
package legacy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nancy-core/nancy/pkg/packet"
)

// Chunking defaults for paragraph-based splitting.
const (
	DefaultChunkSize = 512
	ProcessorName    = "legacy-processor"
)

// Processor converts local files into knowledge packets.
type Processor struct {
	chunkSize int
	logger    *slog.Logger
}

// NewProcessor creates a processor with the given target chunk size in
// characters. Zero selects the default.
func NewProcessor(chunkSize int, logger *slog.Logger) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Processor{chunkSize: chunkSize, logger: logger.With("component", "legacy_processor")}
}

// ProcessFile reads path and returns a sealed packet document: chunked text,
// file metadata, and a packet_id computed from the content.
func (p *Processor) ProcessFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("file %s is empty", path)
	}

	chunks := p.chunk(text)
	base := filepath.Base(path)

	chunkDocs := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		chunkDocs[i] = map[string]any{
			"chunk_id": fmt.Sprintf("%s-%d", strings.TrimSuffix(base, filepath.Ext(base)), i),
			"text":     c,
		}
	}
	content := map[string]any{
		"vector_data": map[string]any{
			"chunks":            chunkDocs,
			"embedding_model":   "gemini-embedding-001",
			"chunking_strategy": "paragraph",
			"chunk_size":        p.chunkSize,
			"chunk_overlap":     0,
		},
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("serialize content: %w", err)
	}
	hash, err := packet.ContentHashRaw(contentJSON)
	if err != nil {
		return nil, fmt.Errorf("hash content: %w", err)
	}

	doc := map[string]any{
		"packet_version": "1.0.0",
		"packet_id":      hash,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"source": map[string]any{
			"mcp_server_name":   ProcessorName,
			"server_version":    "1.0.0",
			"original_location": path,
			"content_type":      string(packet.ContentTypeDocument),
			"extraction_method": "plaintext",
		},
		"metadata": map[string]any{
			"title":     base,
			"file_size": info.Size(),
		},
		"content": content,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serialize packet: %w", err)
	}
	p.logger.Info("file processed", "path", path, "chunks", len(chunks))
	return raw, nil
}

// chunk splits text on blank lines and packs paragraphs into chunks close to
// the target size. A single oversized paragraph is split hard at the chunk
// boundary so no chunk exceeds the packet contract's maximum.
func (p *Processor) chunk(text string) []string {
	paragraphs := splitParagraphs(text)

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}
	for _, para := range paragraphs {
		for len(para) > packet.MaxChunkSize {
			flush()
			chunks = append(chunks, strings.TrimSpace(para[:packet.MaxChunkSize]))
			para = para[packet.MaxChunkSize:]
		}
		if current.Len() > 0 && current.Len()+len(para) > p.chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	// Pad a trailing short chunk up to the contract minimum by merging it
	// backwards.
	if len(chunks) > 1 {
		last := chunks[len(chunks)-1]
		if len(last) < packet.MinChunkSize {
			chunks[len(chunks)-2] += "\n\n" + last
			chunks = chunks[:len(chunks)-1]
		}
	}
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}
