package playback

import (
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CachedFrame is the most recent decoded picture for one sharer.
type CachedFrame struct {
	SharerID  string
	SessionID uuid.UUID
	Seq       uint64
	Image     image.Image
	DecodedAt time.Time
}

// FrameCache holds the latest decoded frame per sharer. Each store
// overwrites the previous entry; there is no history.
type FrameCache struct {
	mu     sync.RWMutex
	frames map[string]*CachedFrame
}

func NewFrameCache() *FrameCache {
	return &FrameCache{frames: make(map[string]*CachedFrame)}
}

// Store replaces the sharer's entry.
func (c *FrameCache) Store(f *CachedFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[f.SharerID] = f
}

// Latest returns the sharer's current frame, if any.
func (c *FrameCache) Latest(sharerID string) (*CachedFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.frames[sharerID]
	return f, ok
}

// Remove drops the sharer's entry, typically when their share ends.
func (c *FrameCache) Remove(sharerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.frames, sharerID)
}

// Sharers lists every sharer with a cached frame.
func (c *FrameCache) Sharers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.frames))
	for id := range c.frames {
		ids = append(ids, id)
	}
	return ids
}
