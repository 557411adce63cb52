package lru

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

type OnEvict func(k uint64, v []byte)

// Stats is a point in time view of a cache.
type Stats struct {
	Entries   int
	Bytes     uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// ShardedCache is a byte budgeted LRU split into independently locked shards.
// Keys are expected to be hashes already, a key picks its shard by modulo.
type ShardedCache struct {
	shards []*lruShard

	hits      uint64
	misses    uint64
	evictions uint64
}

func NewShardedCache(shards int, maxTotalBytes uint64, onEvict OnEvict) (*ShardedCache, error) {
	if maxTotalBytes <= 2 {
		return nil, ErrIllegalCapacity
	}

	if shards < 1 {
		return nil, ErrInvalidSharding
	}

	c := &ShardedCache{shards: make([]*lruShard, shards)}

	counted := func(k uint64, v []byte) {
		atomic.AddUint64(&c.evictions, 1)
		if onEvict != nil {
			onEvict(k, v)
		}
	}

	shardMaxBytes := maxTotalBytes / uint64(shards)
	for i := range c.shards {
		c.shards[i] = newLruShard(shardMaxBytes, counted)
	}

	return c, nil
}

// Add stores value under key and returns true if eviction happened
func (c *ShardedCache) Add(key uint64, value []byte) bool {
	return c.shard(key).add(key, value)
}

func (c *ShardedCache) Get(key uint64) ([]byte, bool) {
	v, ok := c.shard(key).get(key)
	if ok {
		atomic.AddUint64(&c.hits, 1)
	} else {
		atomic.AddUint64(&c.misses, 1)
	}
	return v, ok
}

func (c *ShardedCache) Remove(key uint64) {
	c.shard(key).remove(key)
}

func (c *ShardedCache) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(i int) {
			defer wg.Done()
			c.shards[i].purge()
		}(i)
	}

	wg.Wait()
}

func (c *ShardedCache) Count() int {
	var count int
	for i := range c.shards {
		count += c.shards[i].len()
	}
	return count
}

func (c *ShardedCache) Bytes() uint64 {
	var total uint64
	for i := range c.shards {
		total += c.shards[i].bytes()
	}
	return total
}

func (c *ShardedCache) Keys() []uint64 {
	keys := make([]uint64, 0, c.Count())
	for i := range c.shards {
		keys = append(keys, c.shards[i].keys()...)
	}
	return keys
}

func (c *ShardedCache) Stats() Stats {
	return Stats{
		Entries:   c.Count(),
		Bytes:     c.Bytes(),
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
	}
}

func (c *ShardedCache) shard(key uint64) *lruShard {
	return c.shards[key%uint64(len(c.shards))]
}
