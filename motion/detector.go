// Package motion detects changed areas between consecutive captured frames
// so the software encoder can send region deltas instead of full frames.
//
// Each frame is divided into square blocks and reduced to one mean luma
// value per block. A block counts as changed when its mean moved past the
// sensitivity threshold relative to the reference frame. Adjacent changed
// blocks are merged into rectangles. The reference only advances when the
// caller commits a frame, so skipped frames keep accumulating drift until it
// crosses the threshold instead of hiding below it forever.
package motion

import (
	"sort"

	"github.com/The404Studios/Yurt-Cord-sub006/media"
)

// Result describes one frame's change set relative to the reference.
type Result struct {
	// Regions are the changed rectangles in pixel coordinates. Empty when
	// Skip is set.
	Regions []media.Region
	// FullFrame marks a frame that must be encoded whole: the first frame,
	// a dimension change, or change covering the entire frame.
	FullFrame bool
	// Skip marks a frame whose change ratio fell below the minimum. The
	// caller should encode nothing.
	Skip bool
	// ChangedRatio is the fraction of blocks past the threshold.
	ChangedRatio float64
}

// Detector compares frames block-wise against the last committed frame.
// Not safe for concurrent use; the encode loop owns it.
type Detector struct {
	blockSize int
	threshold int
	minRatio  float64

	width  int
	height int
	cols   int
	rows   int

	ref     []uint8 // block means of the last committed frame
	pending []uint8 // block means of the last detected frame
	hasRef  bool
	dirty   []bool // scratch: per-block changed flags
}

// NewDetector builds a detector. blockSize is the block edge in pixels,
// threshold the mean luma delta (0-255) past which a block counts as
// changed, minRatio the changed-block fraction below which a frame is
// skipped.
func NewDetector(blockSize, threshold int, minRatio float64) *Detector {
	return &Detector{
		blockSize: blockSize,
		threshold: threshold,
		minRatio:  minRatio,
	}
}

// Detect computes the change set of bm against the reference. The result is
// only advisory until Commit is called; detecting twice without a commit
// compares both frames against the same reference.
func (d *Detector) Detect(bm *media.Bitmap) Result {
	if bm.Width != d.width || bm.Height != d.height {
		d.resize(bm.Width, bm.Height)
	}

	d.blockMeans(bm, d.pending)

	if !d.hasRef {
		return Result{
			Regions:      []media.Region{{X: 0, Y: 0, W: bm.Width, H: bm.Height}},
			FullFrame:    true,
			ChangedRatio: 1,
		}
	}

	changed := 0
	for i := range d.pending {
		delta := int(d.pending[i]) - int(d.ref[i])
		if delta < 0 {
			delta = -delta
		}
		if d.dirty[i] = delta > d.threshold; d.dirty[i] {
			changed++
		}
	}

	ratio := float64(changed) / float64(len(d.pending))
	if ratio < d.minRatio {
		return Result{Skip: true, ChangedRatio: ratio}
	}

	regions := d.mergeRegions()
	full := len(regions) == 1 &&
		regions[0] == (media.Region{X: 0, Y: 0, W: d.width, H: d.height})

	return Result{
		Regions:      regions,
		FullFrame:    full,
		ChangedRatio: ratio,
	}
}

// Commit promotes the last detected frame to the new reference. Call it
// after the frame was actually encoded, full or delta.
func (d *Detector) Commit() {
	d.ref, d.pending = d.pending, d.ref
	d.hasRef = true
}

// Reset drops the reference so the next frame reports as a full frame.
func (d *Detector) Reset() {
	d.hasRef = false
}

func (d *Detector) resize(w, h int) {
	d.width, d.height = w, h
	d.cols = (w + d.blockSize - 1) / d.blockSize
	d.rows = (h + d.blockSize - 1) / d.blockSize
	n := d.cols * d.rows
	d.ref = make([]uint8, n)
	d.pending = make([]uint8, n)
	d.dirty = make([]bool, n)
	d.hasRef = false
}

// blockMeans fills dst with the mean luma of every block. Luma is the
// integer Rec. 601 weighting of the RGBA pixels.
func (d *Detector) blockMeans(bm *media.Bitmap, dst []uint8) {
	bs := d.blockSize
	for by := 0; by < d.rows; by++ {
		y0 := by * bs
		y1 := min(y0+bs, bm.Height)
		for bx := 0; bx < d.cols; bx++ {
			x0 := bx * bs
			x1 := min(x0+bs, bm.Width)

			var sum, count uint32
			for y := y0; y < y1; y++ {
				row := bm.Data[y*bm.Stride:]
				for x := x0; x < x1; x++ {
					p := x * 4
					r := uint32(row[p])
					g := uint32(row[p+1])
					b := uint32(row[p+2])
					sum += (77*r + 150*g + 29*b + 128) >> 8
					count++
				}
			}
			dst[by*d.cols+bx] = uint8(sum / count)
		}
	}
}

// mergeRegions turns the dirty grid into pixel rectangles: horizontal runs
// per row, then runs with identical spans merged across consecutive rows.
func (d *Detector) mergeRegions() []media.Region {
	type rect struct {
		bx, by, bw, bh int
	}

	var done []rect
	open := make(map[[2]int]rect) // keyed by block x and width

	for by := 0; by < d.rows; by++ {
		row := make(map[[2]int]bool)
		for bx := 0; bx < d.cols; {
			if !d.dirty[by*d.cols+bx] {
				bx++
				continue
			}
			start := bx
			for bx < d.cols && d.dirty[by*d.cols+bx] {
				bx++
			}
			row[[2]int{start, bx - start}] = true
		}

		next := make(map[[2]int]rect, len(row))
		for span := range row {
			if r, ok := open[span]; ok && r.by+r.bh == by {
				r.bh++
				next[span] = r
				delete(open, span)
				continue
			}
			next[span] = rect{bx: span[0], by: by, bw: span[1], bh: 1}
		}
		for _, r := range open {
			done = append(done, r)
		}
		open = next
	}
	for _, r := range open {
		done = append(done, r)
	}

	bs := d.blockSize
	regions := make([]media.Region, 0, len(done))
	for _, r := range done {
		x := r.bx * bs
		y := r.by * bs
		regions = append(regions, media.Region{
			X: x,
			Y: y,
			W: min(r.bw*bs, d.width-x),
			H: min(r.bh*bs, d.height-y),
		})
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Y != regions[j].Y {
			return regions[i].Y < regions[j].Y
		}
		return regions[i].X < regions[j].X
	})
	return regions
}
