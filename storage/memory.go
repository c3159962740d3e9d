package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Memory is an in-process FileStore. Contents are lost when the process
// exits; it backs tests and throwaway runs.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) Read(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.files[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: read %s: %w", path, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Write(_ context.Context, path string) (io.WriteCloser, error) {
	return &memoryWriter{store: m, path: path}, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	_, ok := m.files[path]
	m.mu.RUnlock()
	return ok, nil
}

type memoryWriter struct {
	store *Memory
	path  string
	buf   bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	data := bytes.Clone(w.buf.Bytes())
	w.store.mu.Lock()
	w.store.files[w.path] = data
	w.store.mu.Unlock()
	return nil
}

var _ FileStore = (*Memory)(nil)
