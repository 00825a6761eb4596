// Package reference holds the face that anchors identity while scrubbing.
package reference

import (
	"sync"

	"github.com/andresmejia3/mirage/internal/types"
)

// Anchor is the (frame, position) a reference face is computed from.
type Anchor struct {
	FrameNumber int
	Position    int
}

// Cache is a single-slot reference face store.
// The descriptor is only ever non-nil when it was computed from the current anchor:
// every anchor change clears it first, and each clear bumps the epoch so that a
// computation started before the clear cannot store its result afterwards.
type Cache struct {
	mu     sync.RWMutex
	face   *types.Face
	anchor Anchor
	epoch  uint64
}

func New() *Cache {
	return &Cache{}
}

// Get returns the cached descriptor, or nil.
func (c *Cache) Get() *types.Face {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.face
}

// Anchor returns the current anchor.
func (c *Cache) Anchor() Anchor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anchor
}

// Snapshot returns the descriptor, anchor and epoch atomically.
func (c *Cache) Snapshot() (*types.Face, Anchor, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.face, c.anchor, c.epoch
}

// Set stores face computed from anchor. The anchor is replaced with the given one.
func (c *Cache) Set(face *types.Face, anchor Anchor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if anchor != c.anchor {
		c.epoch++
	}
	c.face = face
	c.anchor = anchor
}

// SetIfEpoch stores face only if no clear happened since epoch was observed
// and the anchor is unchanged. It reports whether the face was stored.
func (c *Cache) SetIfEpoch(face *types.Face, anchor Anchor, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.anchor != anchor {
		return false
	}
	c.face = face
	return true
}

// Clear drops the descriptor and keeps the anchor.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

// Move clears the descriptor, then points the anchor at a new (frame, position).
func (c *Cache) Move(anchor Anchor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	c.anchor = anchor
}

// Reset clears the descriptor and returns the anchor to (0, 0).
func (c *Cache) Reset() {
	c.Move(Anchor{})
}

func (c *Cache) clear() {
	c.face = nil
	c.epoch++
}
