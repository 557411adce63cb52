package lru

import (
	"container/list"
	"sync"
)

type lruShard struct {
	mu         sync.Mutex
	totalBytes uint64
	maxBytes   uint64
	evictList  *list.List
	elems      map[uint64]*list.Element
	onEvict    OnEvict
}

func newLruShard(maxBytes uint64, onEvict OnEvict) *lruShard {
	return &lruShard{
		maxBytes:  maxBytes,
		evictList: list.New(),
		elems:     make(map[uint64]*list.Element),
		onEvict:   onEvict,
	}
}

type entry struct {
	key   uint64
	value []byte
}

func (ls *lruShard) get(key uint64) ([]byte, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	elem, ok := ls.elems[key]
	if !ok {
		return nil, false
	}

	ls.evictList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

// add stores value under key and returns true if eviction happened
func (ls *lruShard) add(key uint64, value []byte) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	// an existing value gives its bytes back before the budget is checked
	if elem, ok := ls.elems[key]; ok {
		ls.removeElementUnderLock(elem)
	}

	// until we can safely insert a value of new length
	// remove the oldest entries
	var evicted bool
	for ls.totalBytes+uint64(len(value)) > ls.maxBytes {
		evictedKey, evictedValue, ok := ls.removeOldestUnderLock()
		if !ok {
			break
		}

		evicted = true
		if ls.onEvict != nil {
			ls.onEvict(evictedKey, evictedValue)
		}
	}

	elem := ls.evictList.PushFront(&entry{key: key, value: value})
	ls.totalBytes += uint64(len(value))
	ls.elems[key] = elem

	return evicted
}

func (ls *lruShard) purge() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.elems = make(map[uint64]*list.Element)
	ls.totalBytes = 0
	ls.evictList.Init()
}

func (ls *lruShard) remove(key uint64) ([]byte, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	elem, ok := ls.elems[key]
	if !ok {
		return nil, false
	}

	_, value := ls.removeElementUnderLock(elem)
	return value, true
}

func (ls *lruShard) removeOldestUnderLock() (uint64, []byte, bool) {
	elem := ls.evictList.Back()
	if elem == nil {
		return 0, nil, false
	}

	k, v := ls.removeElementUnderLock(elem)
	return k, v, true
}

func (ls *lruShard) removeElementUnderLock(elem *list.Element) (uint64, []byte) {
	ls.evictList.Remove(elem)

	kv := elem.Value.(*entry)
	delete(ls.elems, kv.key)
	ls.totalBytes -= uint64(len(kv.value))
	return kv.key, kv.value
}

func (ls *lruShard) len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.elems)
}

func (ls *lruShard) bytes() uint64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.totalBytes
}

func (ls *lruShard) keys() []uint64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	keys := make([]uint64, 0, len(ls.elems))
	for k := range ls.elems {
		keys = append(keys, k)
	}
	return keys
}
