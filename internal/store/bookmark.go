package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"
)

// MemoryBookmarkStore keeps cursors in process memory. It is used in tests
// and wherever bookmark loss on restart is acceptable.
type MemoryBookmarkStore struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

// NewMemoryBookmarkStore creates an empty bookmark store.
func NewMemoryBookmarkStore() *MemoryBookmarkStore {
	return &MemoryBookmarkStore{cursors: make(map[string]int64)}
}

var _ BookmarkStore = (*MemoryBookmarkStore)(nil)

// Get implements BookmarkStore.
func (s *MemoryBookmarkStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[key]
	return cursor, ok, nil
}

// Set implements BookmarkStore.
func (s *MemoryBookmarkStore) Set(ctx context.Context, key string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = cursor
	return nil
}

// bookmarkRecord is the on-disk shape of a persisted cursor.
type bookmarkRecord struct {
	Key    string `json:"key"`
	Cursor int64  `json:"cursor"`
}

// FileBookmarkStore persists one YAML file per bookmark key under a
// directory. Writes go through a temp file and rename so a crash mid-write
// leaves the previous bookmark intact.
type FileBookmarkStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileBookmarkStore creates the directory if needed and returns a store
// rooted there.
func NewFileBookmarkStore(dir string) (*FileBookmarkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bookmark directory: %w", err)
	}
	return &FileBookmarkStore{dir: dir}, nil
}

var _ BookmarkStore = (*FileBookmarkStore)(nil)

// Get implements BookmarkStore.
func (s *FileBookmarkStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read bookmark %s: %w", key, err)
	}

	var rec bookmarkRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return 0, false, fmt.Errorf("parse bookmark %s: %w", key, err)
	}
	return rec.Cursor, true, nil
}

// Set implements BookmarkStore.
func (s *FileBookmarkStore) Set(ctx context.Context, key string, cursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(bookmarkRecord{Key: key, Cursor: cursor})
	if err != nil {
		return fmt.Errorf("encode bookmark %s: %w", key, err)
	}

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write bookmark %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit bookmark %s: %w", key, err)
	}
	return nil
}

func (s *FileBookmarkStore) path(key string) string {
	// Keys may contain separators; flatten them for the filename.
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(s.dir, safe+".yaml")
}
