// Package fsx provides text file access scoped beneath a project root. Every
// path is resolved against the root and rejected if it escapes it.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ErrorKind string

const (
	KindAccessDenied   ErrorKind = "access-denied"
	KindNotFound       ErrorKind = "not-found"
	KindPermission     ErrorKind = "permission-denied"
	KindPatchConflict  ErrorKind = "patch-conflict"
	KindRevertConflict ErrorKind = "revert-conflict"
	KindIO             ErrorKind = "io"
)

// Error is the typed file handling failure surfaced to callers: a kind for
// pattern matching plus the operation and path for diagnostics.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s %s", e.Kind, e.Op, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// ProjectFS performs file operations relative to a fixed project root.
type ProjectFS struct {
	root string
}

func NewProjectFS(root string) (*ProjectFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, NewError(KindIO, "resolve", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapOSError("stat", abs, err)
	}
	if !info.IsDir() {
		return nil, NewError(KindIO, "stat", abs, fmt.Errorf("not a directory"))
	}
	return &ProjectFS{root: abs}, nil
}

func (p *ProjectFS) Root() string {
	return p.root
}

// Resolve turns a project-relative (or absolute) path into an absolute path
// and fails with access-denied if it escapes the project root.
func (p *ProjectFS) Resolve(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(p.root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != p.root && !strings.HasPrefix(resolved, p.root+string(filepath.Separator)) {
		return "", NewError(KindAccessDenied, "resolve", path, fmt.Errorf("path escapes project root %s", p.root))
	}

	return resolved, nil
}

func (p *ProjectFS) ReadFile(path string) (string, error) {
	resolved, err := p.Resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", mapOSError("read", path, err)
	}
	return string(data), nil
}

func (p *ProjectFS) WriteFile(path string, content string) error {
	resolved, err := p.Resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return mapOSError("write", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return mapOSError("write", path, err)
	}
	return nil
}

func (p *ProjectFS) Remove(path string) error {
	resolved, err := p.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(resolved); err != nil {
		return mapOSError("remove", path, err)
	}
	return nil
}

// Exists distinguishes not-found from permission-denied: (false, nil) is a
// clean miss, an error means the check itself failed.
func (p *ProjectFS) Exists(path string) (bool, error) {
	resolved, err := p.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(resolved)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapOSError("stat", path, err)
}

func mapOSError(op string, path string, err error) *Error {
	switch {
	case os.IsNotExist(err):
		return NewError(KindNotFound, op, path, err)
	case os.IsPermission(err):
		return NewError(KindPermission, op, path, err)
	default:
		return NewError(KindIO, op, path, err)
	}
}

// DiscoverRoot walks up from start looking for a project marker (go.mod or a
// .git directory) and falls back to start itself.
func DiscoverRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}

	for {
		for _, marker := range []string{"go.mod", ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	abs, _ := filepath.Abs(start)
	return abs
}
