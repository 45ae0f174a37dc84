package store

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/patch"
)

// filePatchLog persists a conversation's patch log as a single JSON array,
// rewritten on every append/pop. Logs are small; simplicity beats an
// append-only binary format here.
type filePatchLog struct {
	mu   sync.Mutex
	path string
}

var _ patch.LogStore = (*filePatchLog)(nil)

func (l *filePatchLog) read() ([]patch.LogEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read patch log %s", l.path)
	}

	var entries []patch.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal patch log %s", l.path)
	}
	return entries, nil
}

func (l *filePatchLog) write(entries []patch.LogEntry) error {
	if len(entries) == 0 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove patch log %s", l.path)
		}
		return nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal patch log")
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write patch log %s", l.path)
	}
	return nil
}

func (l *filePatchLog) Append(entry patch.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	return l.write(append(entries, entry))
}

func (l *filePatchLog) Last() (*patch.LogEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 {
		return nil, false, nil
	}
	entry := entries[len(entries)-1]
	return &entry, true, nil
}

func (l *filePatchLog) PopLast() (*patch.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("patch log is empty")
	}
	entry := entries[len(entries)-1]
	if err := l.write(entries[:len(entries)-1]); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *filePatchLog) Len() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
