package snapshot

import (
	"container/list"

	"github.com/effigy-dev/effigy/interp"
)

// LRUStore wraps a Store and caches raw entries with LRU eviction, so
// repeated recomposition walks over the same snapshot graph skip
// re-reading the backing store.
type LRUStore struct {
	underlying Store
	cache      map[Hash]*list.Element
	evictList  *list.List
	maxSize    int
}

type cacheEntry struct {
	hash  Hash
	value []byte
}

// NewLRUStore wraps a store with a cache of at most maxSize entries.
// Zero or negative means the default size.
func NewLRUStore(underlying Store, maxSize int) *LRUStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &LRUStore{
		underlying: underlying,
		cache:      make(map[Hash]*list.Element),
		evictList:  list.New(),
		maxSize:    maxSize,
	}
}

func (l *LRUStore) Put(item Hashable) (Hash, error) {
	return l.underlying.Put(item)
}

func (l *LRUStore) PutState(s *interp.State) (Hash, error) {
	return l.underlying.PutState(s)
}

func (l *LRUStore) Has(hash Hash) bool {
	return l.underlying.Has(hash)
}

func (l *LRUStore) getValue(h Hash) (bool, []byte, error) {
	if elem, ok := l.cache[h]; ok {
		l.evictList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		return true, entry.value, nil
	}

	underlying, ok := l.underlying.(directStore)
	if !ok {
		return false, nil, nil
	}

	has, data, err := underlying.getValue(h)
	if err != nil {
		return false, nil, err
	}
	if !has {
		return false, nil, nil
	}

	l.addToCache(h, data)
	return true, data, nil
}

func (l *LRUStore) addToCache(hash Hash, value []byte) {
	if elem, ok := l.cache[hash]; ok {
		l.evictList.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{
		hash:  hash,
		value: value,
	}
	elem := l.evictList.PushFront(entry)
	l.cache[hash] = elem

	if l.evictList.Len() > l.maxSize {
		l.evictOldest()
	}
}

func (l *LRUStore) evictOldest() {
	elem := l.evictList.Back()
	if elem != nil {
		l.evictList.Remove(elem)
		entry := elem.Value.(*cacheEntry)
		delete(l.cache, entry.hash)
	}
}

// CacheStats reports cache occupancy.
type CacheStats struct {
	Size    int
	MaxSize int
}

func (l *LRUStore) Stats() CacheStats {
	return CacheStats{
		Size:    len(l.cache),
		MaxSize: l.maxSize,
	}
}

func (l *LRUStore) RecordSeen(hash Hash, seq int) {
	l.underlying.RecordSeen(hash, seq)
}

func (l *LRUStore) SeenAt(hash Hash) []int {
	return l.underlying.SeenAt(hash)
}

var _ Store = (*LRUStore)(nil)
