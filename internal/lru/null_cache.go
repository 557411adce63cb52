package lru

// NullCache stores nothing. It is used when caching is disabled.
type NullCache struct{}

func (NullCache) Add(key uint64, value []byte) bool { return false }

func (NullCache) Get(key uint64) ([]byte, bool) { return nil, false }

func (NullCache) Remove(key uint64) {}

func (NullCache) Purge() {}

func (NullCache) Count() int { return 0 }

func (NullCache) Stats() Stats { return Stats{} }
