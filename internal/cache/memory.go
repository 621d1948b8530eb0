package cache

import (
	"context"
	"strings"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store bounded to a fixed number of entries, the least recently
// used entry is evicted first. Entries never outlive maxTTL.
type MemoryStore struct {
	lru  *expirable.LRU[string, memoryEntry]
	time chrono.TimeAPI
}

func NewMemoryStore(size int, maxTTL time.Duration, timeAPI chrono.TimeAPI) MemoryStore {
	assert.Positive("cache size", size)
	assert.NotNil(timeAPI)
	return MemoryStore{
		lru:  expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		time: timeAPI,
	}
}

func (s MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.time.Now().Before(entry.expiresAt) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.lru.Add(key, memoryEntry{
		value:     value,
		expiresAt: s.time.Now().Add(ttl),
	})
	return nil
}

func (s MemoryStore) Clear(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) && s.lru.Remove(key) {
			removed++
		}
	}
	return removed, nil
}
