// Package hash provides a fixed set of mutexes striped by key, so unrelated
// keys rarely contend while a single key is always serialized.
package hash

import (
	"hash/fnv"
	"sync"
)

type Hash struct {
	stripes []sync.Mutex
}

// New creates striped lock with size stripes
func New(size uint64) *Hash {
	if size == 0 {
		size = 1
	}
	return &Hash{
		stripes: make([]sync.Mutex, size),
	}
}

func (h *Hash) stripe(key string) *sync.Mutex {
	f := fnv.New64a()
	f.Write([]byte(key))
	return &h.stripes[f.Sum64()%uint64(len(h.stripes))]
}

func (h *Hash) Lock(key string) {
	h.stripe(key).Lock()
}

func (h *Hash) Unlock(key string) {
	h.stripe(key).Unlock()
}

// Size returns number of stripes
func (h *Hash) Size() int {
	return len(h.stripes)
}
