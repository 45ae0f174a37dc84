// Package patch applies unified-diff patches to project files and supports
// reverting the most recent one. Reverts work from the pre-image captured at
// apply time, never from state re-derived later.
package patch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/fsx"
)

var errPatchLogEmpty = errors.New("patch log is empty")

// IsLogEmpty reports whether err is the empty-patch-log failure.
func IsLogEmpty(err error) bool {
	return errors.Is(err, errPatchLogEmpty)
}

// Refresher regenerates the project tag index after a file changed. Refresh
// failures are logged, never propagated.
type Refresher interface {
	Refresh(root string) error
}

// Manager applies and reverts patches against a project-scoped filesystem.
type Manager struct {
	fs        *fsx.ProjectFS
	logStore  LogStore
	refresher Refresher
	maxFuzz   int
	dmp       *diffmatchpatch.DiffMatchPatch

	publisher      *events.PublisherManager
	conversationID uuid.UUID

	wg sync.WaitGroup
}

type Option func(*Manager)

func WithRefresher(r Refresher) Option {
	return func(m *Manager) { m.refresher = r }
}

// WithPublisher emits patch-applied and patch-reverted events for the given
// conversation.
func WithPublisher(p *events.PublisherManager, conversationID uuid.UUID) Option {
	return func(m *Manager) {
		m.publisher = p
		m.conversationID = conversationID
	}
}

// WithMaxFuzz sets how many context lines a hunk may shed at each edge before
// it is declared a conflict.
func WithMaxFuzz(fuzz int) Option {
	return func(m *Manager) {
		if fuzz >= 0 {
			m.maxFuzz = fuzz
		}
	}
}

func NewManager(projectFS *fsx.ProjectFS, logStore LogStore, opts ...Option) *Manager {
	m := &Manager{
		fs:       projectFS,
		logStore: logStore,
		maxFuzz:  2,
		dmp:      diffmatchpatch.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Apply applies a unified-diff patch to a project file. A missing file is
// treated as empty so creation patches work; the log entry remembers that so
// the revert removes the file instead of leaving it empty. On conflict or any
// file error the file is left untouched.
func (m *Manager) Apply(filePath string, patchText string) error {
	current, err := m.fs.ReadFile(filePath)
	created := false
	if err != nil {
		var fsErr *fsx.Error
		if !errors.As(err, &fsErr) || fsErr.Kind != fsx.KindNotFound {
			return err
		}
		current = ""
		created = true
	}

	hunks, err := ParseUnified(patchText)
	if err != nil {
		return fsx.NewError(fsx.KindPatchConflict, "apply", filePath, err)
	}

	patched, err := ApplyHunks(current, hunks, m.maxFuzz)
	if err != nil {
		return fsx.NewError(fsx.KindPatchConflict, "apply", filePath, err)
	}

	if err := m.fs.WriteFile(filePath, patched); err != nil {
		return err
	}

	inverse := m.inversePatch(current, patched)
	entry := LogEntry{
		Path:      filePath,
		Patch:     patchText,
		PreImage:  current,
		Inverse:   inverse,
		Created:   created,
		AppliedAt: time.Now(),
	}
	if err := m.logStore.Append(entry); err != nil {
		return errors.Wrap(err, "failed to append patch log entry")
	}

	log.Info().
		Str("path", filePath).
		Int("hunks", len(hunks)).
		Bool("created", created).
		Msg("applied patch")

	m.publish(events.EventTypePatchApplied, map[string]interface{}{
		"path":    filePath,
		"hunks":   len(hunks),
		"created": created,
	})
	m.refreshAsync()
	return nil
}

// RevertLast undoes the most recently applied patch. If the file has drifted
// from the expected post-patch state the revert fails instead of silently
// corrupting the file.
func (m *Manager) RevertLast() error {
	entry, ok, err := m.logStore.Last()
	if err != nil {
		return errors.Wrap(err, "failed to read patch log")
	}
	if !ok {
		return errPatchLogEmpty
	}

	current, err := m.fs.ReadFile(entry.Path)
	if err != nil {
		return err
	}

	// Reconstruct the state the file was in right after the patch applied,
	// from the stored pre-image.
	hunks, err := ParseUnified(entry.Patch)
	if err != nil {
		return fsx.NewError(fsx.KindRevertConflict, "revert", entry.Path, err)
	}
	expected, err := ApplyHunks(entry.PreImage, hunks, 0)
	if err != nil {
		return fsx.NewError(fsx.KindRevertConflict, "revert", entry.Path, err)
	}

	if current != expected {
		return fsx.NewError(fsx.KindRevertConflict, "revert", entry.Path,
			errors.Errorf("file drifted since patch was applied:\n%s", m.driftSummary(expected, current)))
	}

	if entry.Created {
		// The patch brought the file into existence, so the revert takes it
		// back out.
		if err := m.fs.Remove(entry.Path); err != nil {
			return err
		}
	} else if err := m.fs.WriteFile(entry.Path, entry.PreImage); err != nil {
		return err
	}

	if _, err := m.logStore.PopLast(); err != nil {
		return errors.Wrap(err, "failed to pop patch log entry")
	}

	log.Info().
		Str("path", entry.Path).
		Msg("reverted last patch")

	m.publish(events.EventTypePatchReverted, map[string]interface{}{
		"path": entry.Path,
	})
	m.refreshAsync()
	return nil
}

func (m *Manager) publish(type_ events.EventType, fields map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	m.publisher.PublishBlind(events.NewEvent(type_, m.conversationID, fields))
}

// inversePatch renders the patched-to-original change in diff-match-patch
// form, stored alongside the pre-image for diagnostics.
func (m *Manager) inversePatch(original string, patched string) string {
	diffs := m.dmp.DiffMain(patched, original, true)
	patches := m.dmp.PatchMake(patched, diffs)
	return m.dmp.PatchToText(patches)
}

func (m *Manager) driftSummary(expected string, actual string) string {
	diffs := m.dmp.DiffMain(expected, actual, true)
	diffs = m.dmp.DiffCleanupSemantic(diffs)
	return m.dmp.DiffPrettyText(diffs)
}

func (m *Manager) refreshAsync() {
	if m.refresher == nil {
		return
	}

	root := m.fs.Root()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.refresher.Refresh(root); err != nil {
			log.Warn().Str("root", root).Err(err).Msg("project index refresh failed")
		}
	}()
}

// Wait blocks until any in-flight index refreshes are done. Used on shutdown
// and in tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}
