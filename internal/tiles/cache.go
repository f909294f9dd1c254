package tiles

import "sync"

// byteCache is a thread-safe LRU over rendered tile bytes, bounded by total
// byte size rather than entry count since PNG and MVT tiles vary widely.
type byteCache struct {
	maxBytes int
	mu       sync.Mutex
	bytes    int
	entries  map[string]*cacheEntry
	head     *cacheEntry // most recently used
	tail     *cacheEntry // least recently used
}

type cacheEntry struct {
	key   string
	value []byte
	prev  *cacheEntry
	next  *cacheEntry
}

func newByteCache(maxBytes int) *byteCache {
	return &byteCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*cacheEntry),
	}
}

func (c *byteCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *byteCache) put(key string, value []byte) {
	if len(value) > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.bytes += len(value) - len(e.value)
		e.value = value
		c.moveToFront(e)
	} else {
		e := &cacheEntry{key: key, value: value}
		c.entries[key] = e
		c.addToFront(e)
		c.bytes += len(value)
	}

	for c.bytes > c.maxBytes {
		c.evictTail()
	}
}

func (c *byteCache) moveToFront(e *cacheEntry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *byteCache) addToFront(e *cacheEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *byteCache) remove(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *byteCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.bytes -= len(c.tail.value)
	c.remove(c.tail)
}
