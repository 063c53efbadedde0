package snapshot

import (
	"bytes"
	"sort"
	"sync"

	"github.com/dgryski/go-farm"

	"github.com/effigy-dev/effigy/interp"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[Hash][]byte
	seen map[Hash][]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[Hash][]byte),
		seen: make(map[Hash][]int),
	}
}

func (m *MemoryStore) getValue(h Hash) (bool, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[h]
	if !ok {
		return false, nil, nil
	}
	return true, v, nil
}

func (m *MemoryStore) Has(hash Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[hash]
	return ok
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Put(item Hashable) (Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	err := item.Serialize(&buf)
	if err != nil {
		return 0, err
	}
	data := buf.Bytes()
	h := Hash(farm.Hash64(data))
	m.data[h] = data
	return h, nil
}

func (m *MemoryStore) PutState(s *interp.State) (Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decomposeState(m, s)
}

// RecordSeen notes that a state hash showed up at the given dispatch
// sequence number.
func (m *MemoryStore) RecordSeen(hash Hash, seq int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[hash] = append(m.seen[hash], seq)
	sort.Ints(m.seen[hash])
}

// SeenAt returns every dispatch sequence number that produced the hash.
func (m *MemoryStore) SeenAt(hash Hash) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seqs := m.seen[hash]
	result := make([]int, len(seqs))
	copy(result, seqs)
	return result
}

var _ Store = (*MemoryStore)(nil)
