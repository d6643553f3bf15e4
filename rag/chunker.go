package rag

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Chunker splits documents into overlapping fragments for indexing.
// Boundaries prefer paragraph breaks, then line breaks, then sentence ends,
// then word gaps, so chunks rarely cut mid-sentence. Fragment identities
// derive from (content, source, label, ordinal), making re-ingestion of an
// unchanged document a no-op for any identity-deduplicating store.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or an overlap outside
// [0, size) fall back to the defaults (1000 chars, 200 overlap).
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits one document into fragments. Chunks carry no agent or score;
// those belong to retrieval, not ingestion.
func (c *Chunker) Chunk(content, source, label string, modified time.Time) []Fragment {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return nil
	}

	var frags []Fragment
	position := 0
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = snapToBoundary(runes, start+c.size/2, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			f := NewFragment(chunk, source, label, position, "", 0)
			f.Timestamp = modified
			frags = append(frags, f)
			position++
		}

		if end == len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return frags
}

// snapToBoundary moves end back to the nearest natural break at or after
// floor, trying paragraph, line, sentence and word boundaries in that order.
// Without any, the hard cut stands.
func snapToBoundary(runes []rune, floor, end int) int {
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > floor; i-- {
		if runes[i] == ' ' && (runes[i-1] == '.' || runes[i-1] == '!' || runes[i-1] == '?') {
			return i
		}
	}
	for i := end - 1; i > floor; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return end
}

// LoadCorpus walks root, chunks every file with a matching extension and
// returns the fragments, sources relative to root. Unreadable entries are
// skipped. exts are compared case-insensitively and default to .md and .txt.
func LoadCorpus(ctx context.Context, root string, exts []string, chunker *Chunker) ([]Fragment, error) {
	if chunker == nil {
		chunker = NewChunker(0, 0)
	}
	if len(exts) == 0 {
		exts = []string{".md", ".txt"}
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}

	var frags []Fragment
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if _, skip := codeSkipDirs[name]; path != root && (skip || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || !utf8.Valid(data) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		var modified time.Time
		if info, err := d.Info(); err == nil {
			modified = info.ModTime()
		}
		frags = append(frags, chunker.Chunk(string(data), rel, "corpus", modified)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frags, nil
}
