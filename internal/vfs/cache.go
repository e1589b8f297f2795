package vfs

import "container/list"

// indirectCacheCapacity bounds how many decoded indirect blocks stay
// resident. This format has only one indirection level, so a single
// LRU layer suffices where the corpus's cache stacks three.
const indirectCacheCapacity = 16

type indirectCacheEntry struct {
	blockNum uint32
	ptrs     [PointersPerIndirect]BlockPtr
}

// IndirectCache is a small LRU over decoded indirect-block pointer
// arrays, keyed by block number, so repeated EnumerateBlocks/AddBlock
// calls against a large file's indirect block skip re-decoding it from
// the device on every access.
type IndirectCache struct {
	capacity int
	ll       *list.List
	items    map[uint32]*list.Element
}

// NewIndirectCache builds an empty cache with room for capacity
// entries.
func NewIndirectCache(capacity int) *IndirectCache {
	if capacity <= 0 {
		capacity = indirectCacheCapacity
	}
	return &IndirectCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint32]*list.Element),
	}
}

// Get returns the cached pointer array for blockNum, if present,
// promoting it to most-recently-used.
func (c *IndirectCache) Get(blockNum uint32) ([PointersPerIndirect]BlockPtr, bool) {
	el, ok := c.items[blockNum]
	if !ok {
		var zero [PointersPerIndirect]BlockPtr
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*indirectCacheEntry).ptrs, true
}

// Put inserts or refreshes the cached pointer array for blockNum,
// evicting the least-recently-used entry if the cache is full.
func (c *IndirectCache) Put(blockNum uint32, ptrs [PointersPerIndirect]BlockPtr) {
	if el, ok := c.items[blockNum]; ok {
		el.Value.(*indirectCacheEntry).ptrs = ptrs
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&indirectCacheEntry{blockNum: blockNum, ptrs: ptrs})
	c.items[blockNum] = el
	if c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back != nil {
			c.ll.Remove(back)
			delete(c.items, back.Value.(*indirectCacheEntry).blockNum)
		}
	}
}

// Invalidate drops blockNum from the cache, used whenever its backing
// block is freed or reallocated to a different purpose.
func (c *IndirectCache) Invalidate(blockNum uint32) {
	if el, ok := c.items[blockNum]; ok {
		c.ll.Remove(el)
		delete(c.items, blockNum)
	}
}
