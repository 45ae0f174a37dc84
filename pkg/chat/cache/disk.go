package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat/api"
)

// DiskEntry is the on-disk representation of a cached response.
type DiskEntry struct {
	Response  api.Response `json:"response"`
	Created   time.Time    `json:"created"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// DiskCache persists cached responses as one file per fingerprint under a
// cache directory, evicting oldest files when size or entry limits are
// exceeded.
type DiskCache struct {
	directory  string
	maxSize    int64
	maxEntries int
	mu         sync.RWMutex
}

var _ Cache = (*DiskCache)(nil)

type DiskOption func(*DiskCache)

func WithDirectory(dir string) DiskOption {
	return func(c *DiskCache) {
		if dir != "" {
			c.directory = dir
		}
	}
}

func WithMaxSize(size int64) DiskOption {
	return func(c *DiskCache) {
		c.maxSize = size
	}
}

func WithMaxEntries(count int) DiskOption {
	return func(c *DiskCache) {
		c.maxEntries = count
	}
}

func NewDiskCache(opts ...DiskOption) (*DiskCache, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get home directory")
	}

	c := &DiskCache{
		directory:  filepath.Join(homeDir, ".parley", "cache", "requests"),
		maxSize:    1 << 30, // 1GB default
		maxEntries: 10000,   // 10k entries default
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(c.directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory %s", c.directory)
	}

	return c, nil
}

func (c *DiskCache) entryPath(fingerprint string) string {
	return filepath.Join(c.directory, fingerprint)
}

func (c *DiskCache) Get(fingerprint string) (*api.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.entryPath(fingerprint)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Str("path", path).Err(err).Msg("failed to read cache file")
		}
		return nil, false
	}

	var entry DiskEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Treat corrupted files as non-existent
		log.Debug().Str("path", path).Err(err).Msg("cache entry corrupted, removing file")
		_ = os.Remove(path)
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		_ = os.Remove(path)
		return nil, false
	}

	// Update access time so eviction is LRU-ish
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	resp := entry.Response
	resp.FromCache = true
	return &resp, true
}

func (c *DiskCache) Set(fingerprint string, resp *api.Response, ttl time.Duration) {
	if resp == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := DiskEntry{
		Response:  *resp,
		Created:   time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal cache entry")
		return
	}

	path := c.entryPath(fingerprint)
	log.Debug().
		Str("path", path).
		Int("dataSize", len(data)).
		Time("expiresAt", entry.ExpiresAt).
		Msg("writing cache entry")

	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("failed to write cache file")
		return
	}

	if err := c.enforceSize(); err != nil {
		log.Warn().Err(err).Msg("failed to enforce cache size limits")
	}
}

func (c *DiskCache) enforceSize() error {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return errors.Wrap(err, "failed to read cache directory")
	}

	type fileInfo struct {
		path       string
		size       int64
		accessTime time.Time
	}

	var files []fileInfo
	var totalSize int64

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			path:       filepath.Join(c.directory, entry.Name()),
			size:       info.Size(),
			accessTime: info.ModTime(),
		})
		totalSize += info.Size()
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].accessTime.Before(files[j].accessTime)
	})

	for i := 0; i < len(files) && (len(files)-i > c.maxEntries || totalSize > c.maxSize); i++ {
		if err := os.Remove(files[i].path); err != nil {
			return errors.Wrap(err, "failed to remove cache file")
		}
		totalSize -= files[i].size
	}

	return nil
}
