package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/google/uuid"
)

// Memory is an in-process clamav.FileStore.
type Memory struct {
	mu    sync.RWMutex
	files map[string]clamav.File
	data  map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		files: make(map[string]clamav.File),
		data:  make(map[string][]byte),
	}
}

// Put reads r fully and stores it under a new id.
func (m *Memory) Put(_ context.Context, name string, r io.Reader) (*clamav.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	f := clamav.File{ID: uuid.NewString(), Name: name, Size: int64(len(data))}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	m.data[f.ID] = data
	return &f, nil
}

// Load returns the file with id, or nil if there is none.
func (m *Memory) Load(_ context.Context, id string) (*clamav.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// Open returns a reader of the file content.
func (m *Memory) Open(_ context.Context, f *clamav.File) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[f.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, f.ID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Remove deletes the file.
func (m *Memory) Remove(_ context.Context, f *clamav.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, f.ID)
	}
	delete(m.files, f.ID)
	delete(m.data, f.ID)
	return nil
}

// List returns every stored file ordered by name, then id.
func (m *Memory) List(_ context.Context) ([]clamav.File, error) {
	m.mu.RLock()
	files := make([]clamav.File, 0, len(m.files))
	for _, f := range m.files {
		files = append(files, f)
	}
	m.mu.RUnlock()
	sortFiles(files)
	return files, nil
}
