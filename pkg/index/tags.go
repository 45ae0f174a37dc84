package index

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Tag is one top-level declaration found in a source file.
type Tag struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Path string `json:"path"`
	Line int    `json:"line"`
}

// TagIndexer regenerates a declaration index for the project. It satisfies
// the patch manager's refresher hook so the index tracks file mutations.
type TagIndexer struct {
	outputPath string
}

type TagOption func(*TagIndexer)

// WithOutputPath overrides where the index is written, relative to the
// project root.
func WithOutputPath(path string) TagOption {
	return func(t *TagIndexer) {
		if path != "" {
			t.outputPath = path
		}
	}
}

func NewTagIndexer(opts ...TagOption) *TagIndexer {
	t := &TagIndexer{
		outputPath: filepath.Join(".parley", "tags.json"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

var tagPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"func", regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_][A-Za-z0-9_]*)`)},
	{"type", regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	{"var", regexp.MustCompile(`^var\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	{"const", regexp.MustCompile(`^const\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	{"class", regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	{"def", regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)`)},
}

// Refresh rescans the project and rewrites the tag index under root.
func (t *TagIndexer) Refresh(root string) error {
	var tags []Tag

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !isTextFile(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		fileTags, err := scanFileTags(path, rel)
		if err != nil {
			log.Warn().Str("path", rel).Err(err).Msg("skipping file during tag scan")
			return nil
		}
		tags = append(tags, fileTags...)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to walk project for tags")
	}

	outputPath := filepath.Join(root, t.outputPath)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create tag index directory")
	}

	data, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal tag index")
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write tag index %s", outputPath)
	}

	log.Debug().Int("tags", len(tags)).Str("path", outputPath).Msg("tag index refreshed")
	return nil
}

func scanFileTags(path string, rel string) ([]Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var tags []Tag
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		for _, p := range tagPatterns {
			if m := p.pattern.FindStringSubmatch(text); m != nil {
				tags = append(tags, Tag{
					Name: m[1],
					Kind: p.kind,
					Path: rel,
					Line: line,
				})
				break
			}
		}
	}
	return tags, scanner.Err()
}
