package patch

import (
	"sync"
	"time"
)

// LogEntry records one applied patch. PreImage is the file content captured
// immediately before the patch was applied; it is what makes the revert exact
// instead of re-derived. Inverse is a diff-match-patch rendering of the
// reverse change, kept for diagnostics.
type LogEntry struct {
	Path      string    `json:"path"`
	Patch     string    `json:"patch"`
	PreImage  string    `json:"pre_image"`
	Inverse   string    `json:"inverse,omitempty"`
	Created   bool      `json:"created,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// LogStore is the append-only patch log. The only removal is popping the most
// recent entry, which is what makes revert strictly LIFO and single-step.
type LogStore interface {
	Append(entry LogEntry) error
	Last() (*LogEntry, bool, error)
	PopLast() (*LogEntry, error)
	Len() (int, error)
}

// MemoryLog is an in-process LogStore, used in tests and for ephemeral
// conversations.
type MemoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ LogStore = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) Last() (*LogEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil, false, nil
	}
	entry := l.entries[len(l.entries)-1]
	return &entry, true, nil
}

func (l *MemoryLog) PopLast() (*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil, errPatchLogEmpty
	}
	entry := l.entries[len(l.entries)-1]
	l.entries = l.entries[:len(l.entries)-1]
	return &entry, nil
}

func (l *MemoryLog) Len() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}
