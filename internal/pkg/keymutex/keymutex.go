package keymutex

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// KeyMutex serializes work per string key while letting unrelated keys
// proceed in parallel. Keys are hashed onto a fixed set of stripes, so
// two distinct keys may occasionally share a lock; correctness only
// requires that equal keys always do.
type KeyMutex struct {
	stripes []sync.Mutex
}

func New() *KeyMutex {
	return NewStriped(defaultStripes)
}

func NewStriped(n int) *KeyMutex {
	if n <= 0 {
		n = defaultStripes
	}
	return &KeyMutex{stripes: make([]sync.Mutex, n)}
}

func (m *KeyMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

func (m *KeyMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

func (m *KeyMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}
