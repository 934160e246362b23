package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/noahxzhu/timetable-notify/internal/model"
	"github.com/noahxzhu/timetable-notify/internal/parser"
)

type JSONStore struct {
	mu       sync.Mutex
	filePath string
	data     *model.State
}

func NewJSONStore(filePath string) *JSONStore {
	return &JSONStore{
		filePath: filePath,
		data:     model.NewState(),
	}
}

// Load reads the state file. A missing or empty file is an empty state; on
// error the store keeps an empty state.
func (s *JSONStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = model.NewState()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	loaded := model.NewState()
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	// Set defaults
	if loaded.Chats == nil {
		loaded.Chats = map[int64]model.Subscription{}
	}
	if loaded.Baselines == nil {
		loaded.Baselines = map[string]model.Schedule{}
	}
	// Older files keyed chats only by map key.
	for id, sub := range loaded.Chats {
		if sub.ChatID == 0 {
			sub.ChatID = id
			loaded.Chats[id] = sub
		}
	}
	// Older files keyed baselines by the group as typed, e.g. "160 ТМ".
	for group, sched := range loaded.Baselines {
		key := parser.NormalizeGroup(group)
		if key == group {
			continue
		}
		delete(loaded.Baselines, group)
		if _, ok := loaded.Baselines[key]; !ok {
			loaded.Baselines[key] = sched
		}
	}

	s.data = loaded
	return nil
}

func (s *JSONStore) Snapshot() (*model.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone(), nil
}

func (s *JSONStore) Update(fn func(*model.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.Clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := s.save(work); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.data = work
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

// save writes state to a temp file and renames it over the state file, so a
// crash never leaves a half-written file behind.
func (s *JSONStore) save(state *model.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
