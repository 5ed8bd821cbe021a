package vm

// Inline caches for property access sites. Each GetProp/SetProp instruction
// site owns one cache keyed by shape identity. Hits skip the shape scan and
// read the slot directly; accessor fields never enter the cache because the
// offset alone cannot represent the getter/setter call.

type CacheState uint8

const (
	CacheUninitialized CacheState = iota
	CacheMonomorphic
	CachePolymorphic // up to polyCacheSize shapes
	CacheMegamorphic // too many shapes, always miss
)

const polyCacheSize = 4

type cacheEntry struct {
	shape  *Shape
	offset int
}

type propCache struct {
	state   CacheState
	entries [polyCacheSize]cacheEntry
	count   int
	hits    uint32
	misses  uint32
}

// CacheStats aggregates inline cache behavior across all sites.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// lookup returns the cached slot offset for the given shape.
func (c *propCache) lookup(shape *Shape) (int, bool) {
	switch c.state {
	case CacheMonomorphic:
		if c.entries[0].shape == shape {
			c.hits++
			return c.entries[0].offset, true
		}
	case CachePolymorphic:
		for i := 0; i < c.count; i++ {
			if c.entries[i].shape == shape {
				c.hits++
				// Promote the hit to the front.
				if i > 0 {
					e := c.entries[i]
					copy(c.entries[1:i+1], c.entries[0:i])
					c.entries[0] = e
				}
				return c.entries[0].offset, true
			}
		}
	}
	c.misses++
	return -1, false
}

func (c *propCache) update(shape *Shape, offset int) {
	switch c.state {
	case CacheUninitialized:
		c.state = CacheMonomorphic
		c.entries[0] = cacheEntry{shape: shape, offset: offset}
		c.count = 1
	case CacheMonomorphic:
		if c.entries[0].shape == shape {
			c.entries[0].offset = offset
			return
		}
		c.state = CachePolymorphic
		c.entries[1] = cacheEntry{shape: shape, offset: offset}
		c.count = 2
	case CachePolymorphic:
		for i := 0; i < c.count; i++ {
			if c.entries[i].shape == shape {
				c.entries[i].offset = offset
				return
			}
		}
		if c.count < polyCacheSize {
			c.entries[c.count] = cacheEntry{shape: shape, offset: offset}
			c.count++
		} else {
			c.state = CacheMegamorphic
			c.count = 0
		}
	case CacheMegamorphic:
	}
}

// cacheSite identifies a property access site: one instruction in one code
// block.
type cacheSite struct {
	chunk *Chunk
	ip    int
}

// cachedGet reads o[key] through the site's inline cache. Only plain data
// fields on the object itself are cacheable; everything else takes the full
// path. With caches disabled every access takes the full path, which must be
// observationally identical.
func (vm *VM) cachedGet(ctx *Context, site cacheSite, o *Object, key PropertyKey, receiver Value) (Value, error) {
	if vm.cachesDisabled || o.impl != nil {
		return o.Get(ctx, key, receiver)
	}
	c := vm.cacheFor(site)
	if offset, ok := c.lookup(o.shape); ok {
		vm.cacheStats.Hits++
		return o.slots[offset], nil
	}
	vm.cacheStats.Misses++
	if f, _ := o.shape.find(key); f != nil && !f.accessor {
		c.update(o.shape, f.offset)
		return o.slots[f.offset], nil
	}
	return o.Get(ctx, key, receiver)
}

// cachedSet writes o[key] through the site's inline cache. Only existing
// writable data fields on the object itself are cacheable; additions change
// the shape and must take the transition path.
func (vm *VM) cachedSet(ctx *Context, site cacheSite, o *Object, key PropertyKey, value, receiver Value) (bool, error) {
	if vm.cachesDisabled || o.impl != nil {
		return o.Set(ctx, key, value, receiver)
	}
	c := vm.cacheFor(site)
	if offset, ok := c.lookup(o.shape); ok {
		vm.cacheStats.Hits++
		o.slots[offset] = value
		return true, nil
	}
	vm.cacheStats.Misses++
	if f, _ := o.shape.find(key); f != nil && !f.accessor && f.writable {
		if robj := receiver.ObjectOrNil(); robj == o {
			c.update(o.shape, f.offset)
			o.slots[f.offset] = value
			return true, nil
		}
	}
	return o.Set(ctx, key, value, receiver)
}

func (vm *VM) cacheFor(site cacheSite) *propCache {
	if c, ok := vm.propCaches[site]; ok {
		return c
	}
	c := &propCache{}
	vm.propCaches[site] = c
	return c
}

// DisableInlineCaches routes every property access through the uncached
// path. Used by correctness tests to check cache transparency.
func (vm *VM) DisableInlineCaches(disabled bool) {
	vm.cachesDisabled = disabled
}

// GetCacheStats returns aggregate hit/miss counts.
func (vm *VM) GetCacheStats() CacheStats { return vm.cacheStats }
