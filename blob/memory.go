package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/syncforge/syncforge"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-memory blob store for tests and single-process use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, digest string, r io.Reader) error {
	m.mu.RLock()
	_, exists := m.blobs[digest]
	m.mu.RUnlock()
	if exists {
		// Content-addressed: same digest means same bytes.
		_, err := io.Copy(io.Discard, r)
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blobs[digest]; !exists {
		m.blobs[digest] = data
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, digest string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[digest]
	if !ok {
		return nil, syncforge.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists implements Store.
func (m *Memory) Exists(_ context.Context, digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[digest]
	return ok, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, digest)
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
