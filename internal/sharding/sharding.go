package sharding

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type ShardRouter struct {
	ShardCount int // Number of shards
}

func NewShardRouter(shardCount int) *ShardRouter {
	if shardCount < 1 {
		shardCount = 1
	}
	return &ShardRouter{ShardCount: shardCount}
}

func (r *ShardRouter) GetShard(key string) int {
	// Hash the key and get the shard index
	return int(xxhash.Sum64String(key) % uint64(r.ShardCount))
}

// KeyedMutex serializes work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe; the same key always maps to the same one.
type KeyedMutex struct {
	router *ShardRouter
	locks  []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	router := NewShardRouter(stripes)
	return &KeyedMutex{router: router, locks: make([]sync.Mutex, router.ShardCount)}
}

// Lock acquires the stripe of key and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	mu := &m.locks[m.router.GetShard(key)]
	mu.Lock()
	return mu.Unlock
}
