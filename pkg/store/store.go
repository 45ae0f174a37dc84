// Package store persists conversations and patch logs as JSON files under a
// data directory, one file per conversation id.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/patch"
)

var ErrNotFound = errors.New("conversation not found")

// Summary is one row of a conversation listing.
type Summary struct {
	ID           uuid.UUID `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	TurnCount    int       `json:"turn_count"`
	Updated      time.Time `json:"updated"`
}

// ConversationStore is the persistence collaborator the turn loop writes
// through after every exchange.
type ConversationStore interface {
	Save(conv *conversation.Conversation) error
	Load(id uuid.UUID) (*conversation.Conversation, error)
	List() ([]Summary, error)
	PatchLog(id uuid.UUID) patch.LogStore
}

// FileStore keeps one <id>.json per conversation and one <id>.patchlog.json
// per patch log.
type FileStore struct {
	directory string
}

var _ ConversationStore = (*FileStore)(nil)

func NewFileStore(directory string) (*FileStore, error) {
	if directory == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get home directory")
		}
		directory = filepath.Join(homeDir, ".parley", "conversations")
	}

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store directory %s", directory)
	}

	return &FileStore{directory: directory}, nil
}

func (s *FileStore) conversationPath(id uuid.UUID) string {
	return filepath.Join(s.directory, id.String()+".json")
}

func (s *FileStore) Save(conv *conversation.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal conversation")
	}

	path := s.conversationPath(conv.ID)
	log.Debug().
		Str("path", path).
		Int("messageCount", len(conv.Messages)).
		Msg("saving conversation")

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write conversation file %s", path)
	}
	return nil
}

func (s *FileStore) Load(id uuid.UUID) (*conversation.Conversation, error) {
	path := s.conversationPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read conversation file %s", path)
	}

	conv := &conversation.Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal conversation file %s", path)
	}
	return conv, nil
}

func (s *FileStore) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read store directory")
	}

	var summaries []Summary
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".patchlog.json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}

		conv, err := s.Load(id)
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("skipping unreadable conversation")
			continue
		}

		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Provider:     conv.Provider,
			Model:        conv.Model,
			MessageCount: len(conv.Messages),
			TurnCount:    conv.TurnCount,
			Updated:      conv.Updated,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Updated.After(summaries[j].Updated)
	})

	return summaries, nil
}

func (s *FileStore) PatchLog(id uuid.UUID) patch.LogStore {
	return &filePatchLog{
		path: filepath.Join(s.directory, id.String()+".patchlog.json"),
	}
}
