package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory. Used by tests and by
// one-shot CLI runs that should not touch disk.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[Kind][]byte
	puts map[string]map[Kind]int

	// FailPut, when set, is returned by Put for the matching kind.
	FailPut map[Kind]error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[string]map[Kind][]byte),
		puts: make(map[string]map[Kind]int),
	}
}

func (m *MemoryBackend) Get(_ context.Context, userID string, kind Kind) ([]byte, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[userID][kind]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Put(_ context.Context, userID string, kind Kind, data []byte) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailPut[kind]; err != nil {
		return err
	}
	if m.docs[userID] == nil {
		m.docs[userID] = make(map[Kind][]byte)
		m.puts[userID] = make(map[Kind]int)
	}
	m.puts[userID][kind]++
	m.docs[userID][kind] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, userID string, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[userID], kind)
	return nil
}

func (m *MemoryBackend) Users(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.docs))
	for u := range m.docs {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Raw returns the stored document as written.
func (m *MemoryBackend) Raw(userID string, kind Kind) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[userID][kind]
}

// PutCount reports how many successful Put calls a document has received.
func (m *MemoryBackend) PutCount(userID string, kind Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[userID][kind]
}
