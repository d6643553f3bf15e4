package rag

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
)

// CodeAgent scans a bounded number of local source and document files for
// query terms and returns matched regions as fragments, scored by term
// coverage and match density. It is a fallback source for intents that
// benefit from code context; the file cap keeps its worst case flat no
// matter how large the tree is.
type CodeAgent struct {
	cfg    config.AgentsConfig
	exts   map[string]struct{}
	logger *zap.Logger
}

var _ RetrievalAgent = (*CodeAgent)(nil)

const (
	// codeMaxFileBytes skips files too large to scan line by line.
	codeMaxFileBytes = 512 * 1024
	// codeRegionContext lines are kept around each matching line.
	codeRegionContext = 2
	// codeRegionGap merges matches this close into one region.
	codeRegionGap = 3
	// codeRegionMaxLines closes a region before it swallows the file.
	codeRegionMaxLines = 40
)

// codeSkipDirs are never descended into.
var codeSkipDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"dist":         {},
	"build":        {},
	"__pycache__":  {},
	"testdata":     {},
}

// NewCodeAgent builds a CodeAgent scanning cfg.CodeRoot.
func NewCodeAgent(cfg config.AgentsConfig, logger *zap.Logger) *CodeAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make(map[string]struct{}, len(cfg.CodeExtensions))
	for _, e := range cfg.CodeExtensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &CodeAgent{
		cfg:    cfg,
		exts:   exts,
		logger: logger.With(zap.String("component", "code_agent")),
	}
}

// Name implements RetrievalAgent.
func (a *CodeAgent) Name() string { return AgentCode }

// Retrieve implements RetrievalAgent.
func (a *CodeAgent) Retrieve(ctx context.Context, req *AgentRequest) ([]Fragment, error) {
	terms := queryTerms(req.Query.Normalized)
	if len(terms) == 0 {
		return nil, nil
	}

	files, err := a.collectFiles()
	if err != nil {
		return nil, fmt.Errorf("code scan: %w", err)
	}

	var out []Fragment
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		out = append(out, a.scanFile(f.path, f.rel, f.modTime, terms)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if a.cfg.CodeLimit > 0 && len(out) > a.cfg.CodeLimit {
		out = out[:a.cfg.CodeLimit]
	}

	a.logger.Debug("code scan done",
		zap.Int("files", len(files)),
		zap.Int("fragments", len(out)))
	return out, nil
}

type scanTarget struct {
	path    string
	rel     string
	modTime time.Time
}

// collectFiles walks the scan root and returns at most CodeMaxFiles targets,
// skipping hidden and dependency directories and oversized files.
func (a *CodeAgent) collectFiles() ([]scanTarget, error) {
	root := a.cfg.CodeRoot
	if root == "" {
		root = "."
	}

	var targets []scanTarget
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := codeSkipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := a.exts[strings.ToLower(filepath.Ext(name))]; !ok {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil || info.Size() > codeMaxFileBytes {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			rel = path
		}
		targets = append(targets, scanTarget{path: path, rel: filepath.ToSlash(rel), modTime: info.ModTime()})
		if len(targets) >= a.cfg.CodeMaxFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}

// scanFile extracts matched regions from one file. Matching lines closer
// than codeRegionGap merge into a single region padded with context lines;
// each region scores by term coverage blended with match density.
func (a *CodeAgent) scanFile(path, rel string, modTime time.Time, terms []string) []Fragment {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(data), "\n")
	var matchLines []int
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				matchLines = append(matchLines, i)
				break
			}
		}
	}
	if len(matchLines) == 0 {
		return nil
	}

	var frags []Fragment
	start, end := matchLines[0], matchLines[0]
	flush := func() {
		lo := start - codeRegionContext
		if lo < 0 {
			lo = 0
		}
		hi := end + codeRegionContext
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		region := strings.Join(lines[lo:hi+1], "\n")
		f := NewFragment(region, rel, "code", lo, AgentCode, scoreRegion(region, hi-lo+1, terms))
		f.Timestamp = modTime
		frags = append(frags, f)
	}

	for _, m := range matchLines[1:] {
		if m-end <= codeRegionGap && m-start < codeRegionMaxLines {
			end = m
			continue
		}
		flush()
		start, end = m, m
	}
	flush()

	return frags
}

// scoreRegion blends the share of query terms covered with the per-line
// match density, both in [0,1].
func scoreRegion(region string, lineCount int, terms []string) float64 {
	lower := strings.ToLower(region)

	covered, hits := 0, 0
	for _, t := range terms {
		if n := strings.Count(lower, t); n > 0 {
			covered++
			hits += n
		}
	}

	coverage := float64(covered) / float64(len(terms))
	density := float64(hits) / float64(lineCount)
	if density > 1 {
		density = 1
	}
	return 0.7*coverage + 0.3*density
}

// stopwords excluded from code term matching.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "at": {}, "is": {}, "are": {}, "was": {}, "be": {},
	"it": {}, "this": {}, "that": {}, "for": {}, "with": {}, "as": {},
	"do": {}, "does": {}, "did": {}, "how": {}, "what": {}, "why": {},
	"when": {}, "where": {}, "which": {}, "who": {},
}

// queryTerms extracts the match terms from a normalized query: stopwords and
// one- or two-letter tokens are dropped, duplicates removed, order kept.
func queryTerms(normalized string) []string {
	fields := strings.Fields(normalized)
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}
