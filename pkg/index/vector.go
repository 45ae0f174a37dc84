// Package index provides the project-side lookups the tools lean on: an
// embedding-backed vector search over project files and a tag index
// regenerated after file mutations.
package index

import (
	"context"
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/fsx"
)

// Result is one search hit. Results come back ordered by descending score.
type Result struct {
	Path    string  `json:"path"`
	Snippet string  `json:"snippet"`
	Score   float32 `json:"score"`
}

// Searcher is the embedding-search collaborator the vector_search tool
// delegates to.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

type document struct {
	path    string
	snippet string
	vector  []float32
}

// VectorIndex is an in-memory cosine-similarity index over chunked project
// files.
type VectorIndex struct {
	provider EmbeddingProvider

	mu   sync.RWMutex
	docs []document

	chunkLines  int
	maxResults  int
	concurrency int
}

var _ Searcher = (*VectorIndex)(nil)

type VectorOption func(*VectorIndex)

func WithChunkLines(n int) VectorOption {
	return func(v *VectorIndex) {
		if n > 0 {
			v.chunkLines = n
		}
	}
}

func WithMaxResults(n int) VectorOption {
	return func(v *VectorIndex) {
		if n > 0 {
			v.maxResults = n
		}
	}
}

func WithConcurrency(n int) VectorOption {
	return func(v *VectorIndex) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

func NewVectorIndex(provider EmbeddingProvider, opts ...VectorOption) *VectorIndex {
	v := &VectorIndex{
		provider:    provider,
		chunkLines:  40,
		maxResults:  8,
		concurrency: 4,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Build walks the project, chunks text files, and embeds the chunks. Files
// are embedded concurrently; the index swaps in atomically at the end.
func (v *VectorIndex) Build(ctx context.Context, projectFS *fsx.ProjectFS) error {
	var paths []string
	root := projectFS.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if isTextFile(path) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to walk project")
	}

	var docsMu sync.Mutex
	var docs []document

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			content, err := projectFS.ReadFile(path)
			if err != nil {
				log.Warn().Str("path", path).Err(err).Msg("skipping unreadable file")
				return nil
			}

			chunks := chunkContent(content, v.chunkLines)
			if len(chunks) == 0 {
				return nil
			}

			vectors, err := v.provider.GenerateBatchEmbeddings(gctx, chunks)
			if err != nil {
				return errors.Wrapf(err, "failed to embed %s", path)
			}

			docsMu.Lock()
			for i, chunk := range chunks {
				docs = append(docs, document{
					path:    path,
					snippet: chunk,
					vector:  vectors[i],
				})
			}
			docsMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	v.mu.Lock()
	v.docs = docs
	v.mu.Unlock()

	log.Debug().Int("documents", len(docs)).Msg("vector index built")
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, query string) ([]Result, error) {
	queryVector, err := v.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	results := make([]Result, 0, len(v.docs))
	for _, doc := range v.docs {
		results = append(results, Result{
			Path:    doc.path,
			Snippet: doc.snippet,
			Score:   cosineSimilarity(queryVector, doc.vector),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > v.maxResults {
		results = results[:v.maxResults]
	}
	return results, nil
}

// LazyIndex defers building a VectorIndex until the first search needs it, so
// engine startup does not pay for embedding a project the model never
// searches. A failed build is retried on the next search.
type LazyIndex struct {
	index *VectorIndex
	fs    *fsx.ProjectFS

	mu    sync.Mutex
	built bool
}

var _ Searcher = (*LazyIndex)(nil)

func NewLazyIndex(index *VectorIndex, projectFS *fsx.ProjectFS) *LazyIndex {
	return &LazyIndex{index: index, fs: projectFS}
}

func (l *LazyIndex) Search(ctx context.Context, query string) ([]Result, error) {
	if err := l.ensureBuilt(ctx); err != nil {
		return nil, err
	}
	return l.index.Search(ctx, query)
}

func (l *LazyIndex) ensureBuilt(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.built {
		return nil
	}
	if err := l.index.Build(ctx, l.fs); err != nil {
		return errors.Wrap(err, "failed to build vector index")
	}
	l.built = true
	return nil
}

func chunkContent(content string, chunkLines int) []string {
	lines := strings.Split(content, "\n")
	var chunks []string
	for start := 0; start < len(lines); start += chunkLines {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func cosineSimilarity(a []float32, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var textExtensions = map[string]bool{
	".go": true, ".md": true, ".txt": true, ".py": true, ".js": true,
	".ts": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".yaml": true, ".yml": true, ".json": true, ".toml": true,
	".sh": true, ".sql": true, ".html": true, ".css": true,
}

func isTextFile(path string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(path))]
}
