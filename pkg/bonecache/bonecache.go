// Package bonecache caches bone-to-world matrices between evaluations.
//
// A Cache holds a fixed number of model slots whose matrices live in one
// shared pool of bone entries. Both are reused round-robin, so memory stays
// bounded and eviction costs a constant amount of work per store.
package bonecache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/studiobones/pkg/bone"
	"github.com/Faultbox/studiobones/pkg/math"
	"github.com/Faultbox/studiobones/pkg/studio"
)

// Default capacities.
const (
	DefaultModelSlots  = 16
	DefaultBoneEntries = 512
)

// Key identifies one evaluated skeleton.
type Key struct {
	Model    *studio.Header
	Sequence int
	Cycle    float32
	Time     float32
	Angles   math.Vec3 // radians
	Origin   math.Vec3
}

// KeyFor builds the key of a bone.Request on model h.
func KeyFor(h *studio.Header, req bone.Request) Key {
	return Key{
		Model:    h,
		Sequence: req.Sequence,
		Cycle:    req.Cycle,
		Time:     req.Time,
		Angles:   req.World.RadianEuler(),
		Origin:   req.World.Origin(),
	}
}

type slot struct {
	key   Key
	mask  int32
	start int
	n     int
	valid bool
}

// Stats reports cache activity.
type Stats struct {
	Hits      int
	Misses    int
	Evictions int
}

// Cache is safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	log *zap.Logger

	slots    []slot
	nextSlot int
	pool     []math.Mat3x4
	nextBone int

	stats Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithModelSlots sets the number of cached skeletons.
func WithModelSlots(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.slots = make([]slot, n)
		}
	}
}

// WithBoneEntries sets the size of the shared matrix pool.
func WithBoneEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.pool = make([]math.Mat3x4, n)
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		log:   zap.NewNop(),
		slots: make([]slot, DefaultModelSlots),
		pool:  make([]math.Mat3x4, DefaultBoneEntries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// find returns the slot holding k, or -1.
func (c *Cache) find(k Key) int {
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].key == k {
			return i
		}
	}
	return -1
}

// Lookup copies the cached matrices of every bone matching mask into out.
// It hits only when the stored entry was built with a mask covering mask.
func (c *Cache) Lookup(k Key, mask int32, out []math.Mat3x4) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.find(k)
	if i < 0 || c.slots[i].mask&mask != mask || len(out) < c.slots[i].n {
		c.stats.Misses++
		return false
	}
	s := &c.slots[i]
	src := c.pool[s.start : s.start+s.n]
	for b := range src {
		if k.Model.BoneFlags(b)&mask != 0 {
			out[b] = src[b]
		}
	}
	c.stats.Hits++
	return true
}

// Store records the matrices of a skeleton built with mask. Skeletons
// larger than the pool are not cached.
func (c *Cache) Store(k Key, mask int32, bones []math.Mat3x4) {
	n := len(bones)
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 || n > len(c.pool) {
		c.log.Debug("skeleton does not fit bone cache", zap.Int("bones", n), zap.Int("capacity", len(c.pool)))
		return
	}

	i := c.find(k)
	if i >= 0 {
		c.slots[i].valid = false
	} else {
		i = c.nextSlot
		c.nextSlot = (c.nextSlot + 1) % len(c.slots)
		if c.slots[i].valid {
			c.slots[i].valid = false
			c.stats.Evictions++
		}
	}

	start := c.nextBone
	if start+n > len(c.pool) {
		start = 0
	}
	c.nextBone = (start + n) % len(c.pool)
	for j := range c.slots {
		s := &c.slots[j]
		if s.valid && s.start < start+n && start < s.start+s.n {
			s.valid = false
			c.stats.Evictions++
		}
	}

	copy(c.pool[start:start+n], bones)
	c.slots[i] = slot{key: k, mask: mask, start: start, n: n, valid: true}
}

// Invalidate drops every entry of model h.
func (c *Cache) Invalidate(h *studio.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].key.Model == h {
			c.slots[i].valid = false
		}
	}
}

// Clear drops every entry and resets the statistics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = slot{}
	}
	c.nextSlot = 0
	c.nextBone = 0
	c.stats = Stats{}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.slots {
		if c.slots[i].valid {
			n++
		}
	}
	return n
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Setup evaluates req on e, reusing cached matrices when possible. It
// reports whether out was served from the cache. ik and jiggle are only
// consulted on a miss.
func (c *Cache) Setup(e *bone.Evaluator, req bone.Request, out []math.Mat3x4, ik *bone.IKContext, jiggle *bone.JiggleState) bool {
	k := KeyFor(e.Header(), req)
	if c.Lookup(k, e.Mask(), out) {
		return true
	}
	e.Setup(req, out, ik, jiggle)
	c.Store(k, e.Mask(), out[:e.Header().NumBones()])
	return false
}
