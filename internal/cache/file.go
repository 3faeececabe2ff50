package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File persists cache entries as a JSON map on disk. Writes go to a temp
// file first and replace the target atomically, so a crash mid-write leaves
// the previous contents intact.
type File struct {
	mu   sync.RWMutex
	path string
	data map[string][]byte
}

// NewFile creates a file cache at path and loads existing entries if present.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	f := &File{path: path}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the stored value for key, if any.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	value, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Put stores value under key and persists the map.
func (f *File) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	f.data[key] = stored
	return f.persistLocked()
}

// Delete removes key and persists the map.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.persistLocked()
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.data = make(map[string][]byte)
			return nil
		}
		return fmt.Errorf("read cache: %w", err)
	}
	if len(data) == 0 {
		f.data = make(map[string][]byte)
		return nil
	}

	var entries map[string][]byte
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache: %w", err)
	}
	f.data = entries
	return nil
}

func (f *File) persistLocked() error {
	bytes, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
