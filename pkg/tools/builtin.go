package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/fsx"
	"github.com/go-go-golems/parley/pkg/index"
	"github.com/go-go-golems/parley/pkg/patch"
)

// RequestFilesInput asks for the contents of one or more project files.
type RequestFilesInput struct {
	Paths []string `json:"paths" jsonschema:"required,description=Project-relative paths of the files to read"`
}

// VectorSearchInput searches the project by semantic similarity.
type VectorSearchInput struct {
	Query string `json:"query" jsonschema:"required,description=Natural language description of the code to find"`
}

// ApplyPatchInput applies a unified-diff patch to a single project file.
type ApplyPatchInput struct {
	Path  string `json:"path" jsonschema:"required,description=Project-relative path of the file to patch"`
	Patch string `json:"patch" jsonschema:"required,description=Unified diff to apply to the file"`
}

// RevertPatchInput undoes the most recently applied patch.
type RevertPatchInput struct{}

// NewRequestFilesTool reads project files and returns them concatenated, each
// prefixed with a path header.
func NewRequestFilesTool(projectFS *fsx.ProjectFS) (*Definition, error) {
	handler := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in RequestFilesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", errors.Wrap(err, "invalid request_files input")
		}
		if len(in.Paths) == 0 {
			return "", errors.New("request_files needs at least one path")
		}

		var sb strings.Builder
		for _, path := range in.Paths {
			content, err := projectFS.ReadFile(path)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "=== %s ===\n%s\n", path, content)
		}
		return sb.String(), nil
	}

	return NewDefinition(
		"request_files",
		"Read the contents of one or more files from the project.",
		RequestFilesInput{},
		handler,
	)
}

// NewVectorSearchTool searches the project index and renders the hits.
func NewVectorSearchTool(searcher index.Searcher) (*Definition, error) {
	handler := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in VectorSearchInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", errors.Wrap(err, "invalid vector_search input")
		}
		if in.Query == "" {
			return "", errors.New("vector_search needs a query")
		}

		results, err := searcher.Search(ctx, in.Query)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "no matches found", nil
		}

		var sb strings.Builder
		for _, r := range results {
			fmt.Fprintf(&sb, "=== %s (score %.3f) ===\n%s\n", r.Path, r.Score, r.Snippet)
		}
		return sb.String(), nil
	}

	return NewDefinition(
		"vector_search",
		"Search the project for code semantically similar to a query.",
		VectorSearchInput{},
		handler,
	)
}

// NewApplyPatchTool applies a unified-diff patch through the patch manager.
func NewApplyPatchTool(manager *patch.Manager) (*Definition, error) {
	handler := func(ctx context.Context, input json.RawMessage) (string, error) {
		var in ApplyPatchInput
		if err := json.Unmarshal(input, &in); err != nil {
			return "", errors.Wrap(err, "invalid apply_patch input")
		}

		if err := manager.Apply(in.Path, in.Patch); err != nil {
			return "", err
		}
		return fmt.Sprintf("patch applied to %s", in.Path), nil
	}

	return NewDefinition(
		"apply_patch",
		"Apply a unified diff patch to a project file.",
		ApplyPatchInput{},
		handler,
	)
}

// NewRevertPatchTool undoes the most recent patch.
func NewRevertPatchTool(manager *patch.Manager) (*Definition, error) {
	handler := func(ctx context.Context, input json.RawMessage) (string, error) {
		if err := manager.RevertLast(); err != nil {
			if patch.IsLogEmpty(err) {
				return "", errors.New("no patches to revert")
			}
			return "", err
		}
		return "last patch reverted", nil
	}

	return NewDefinition(
		"revert_patch",
		"Undo the most recently applied patch.",
		RevertPatchInput{},
		handler,
	)
}
