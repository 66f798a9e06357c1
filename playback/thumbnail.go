package playback

import (
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/The404Studios/Yurt-Cord-sub006/config"
)

// Thumbnail is a letterboxed miniature of a sharer's latest frame.
type Thumbnail struct {
	Image     *image.RGBA
	UpdatedAt time.Time
}

// ThumbnailCache keeps one small preview per sharer for channel overview
// surfaces. It never decodes anything itself: the decode loop offers every
// frame, and the cache refreshes at most once per interval per sharer.
// Entries not refreshed within the expiry are swept by a janitor, so a
// sharer that vanished without a goodbye disappears from overviews too.
type ThumbnailCache struct {
	log      *slog.Logger
	width    int
	height   int
	interval time.Duration
	expiry   time.Duration

	mu     sync.Mutex
	thumbs map[string]*Thumbnail

	done     chan struct{}
	stopOnce sync.Once
}

func NewThumbnailCache(cfg config.Config) *ThumbnailCache {
	tc := &ThumbnailCache{
		log:      slog.With("component", "thumbnails"),
		width:    cfg.ThumbnailWidth,
		height:   cfg.ThumbnailHeight,
		interval: cfg.ThumbnailInterval,
		expiry:   cfg.ThumbnailExpiry,
		thumbs:   make(map[string]*Thumbnail),
		done:     make(chan struct{}),
	}
	if tc.expiry > 0 {
		go tc.janitor()
	}
	return tc
}

// Offer proposes a freshly decoded frame. It is dropped unless the
// sharer's thumbnail is at least one interval old; otherwise the frame is
// scaled down and stored, and Offer reports true. The caller must not
// mutate img during the call.
func (tc *ThumbnailCache) Offer(sharerID string, img image.Image, now time.Time) bool {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return false
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if prev, ok := tc.thumbs[sharerID]; ok && now.Sub(prev.UpdatedAt) < tc.interval {
		return false
	}
	tc.thumbs[sharerID] = &Thumbnail{Image: tc.letterbox(img), UpdatedAt: now}
	return true
}

// Get returns the sharer's current thumbnail, if one exists.
func (tc *ThumbnailCache) Get(sharerID string) (*Thumbnail, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	th, ok := tc.thumbs[sharerID]
	return th, ok
}

// Len reports how many sharers currently have a thumbnail.
func (tc *ThumbnailCache) Len() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.thumbs)
}

// Close stops the janitor. Idempotent.
func (tc *ThumbnailCache) Close() {
	tc.stopOnce.Do(func() { close(tc.done) })
}

func (tc *ThumbnailCache) janitor() {
	ticker := time.NewTicker(tc.expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-tc.done:
			return
		case now := <-ticker.C:
			tc.sweep(now)
		}
	}
}

func (tc *ThumbnailCache) sweep(now time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for id, th := range tc.thumbs {
		if now.Sub(th.UpdatedAt) > tc.expiry {
			delete(tc.thumbs, id)
			tc.log.Debug("thumbnail expired", "sharer", id)
		}
	}
}

// letterbox scales src to fit the thumbnail box, centered on black bars,
// preserving aspect ratio.
func (tc *ThumbnailCache) letterbox(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, tc.width, tc.height))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)

	sb := src.Bounds()
	scale := math.Min(float64(tc.width)/float64(sb.Dx()), float64(tc.height)/float64(sb.Dy()))
	w := int(float64(sb.Dx())*scale + 0.5)
	h := int(float64(sb.Dy())*scale + 0.5)
	x := (tc.width - w) / 2
	y := (tc.height - h) / 2
	draw.ApproxBiLinear.Scale(dst, image.Rect(x, y, x+w, y+h), src, sb, draw.Src, nil)
	return dst
}
