package cache

import (
	"errors"
	"sync"
)

// Names of the blobs a Store keeps in its Backend.
const (
	EntryName = "entry"
	LockName  = "lock"
)

var (
	ErrNotExist = errors.New("cache: not found")
	ErrExist    = errors.New("cache: already exists")
)

// Backend is the durable storage behind a Store. Write must replace the
// named blob atomically: readers observe either the old or the new content.
type Backend interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	// Create stores data only if name does not exist yet, else ErrExist.
	Create(name string, data []byte) error
	Remove(name string) error
}

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Write(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Create(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[name]; ok {
		return ErrExist
	}
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[name]; !ok {
		return ErrNotExist
	}
	delete(m.blobs, name)
	return nil
}
