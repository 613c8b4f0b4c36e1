// Package loader drives the per-tile state machine of spec.md §4.6: it
// accepts tile requests from a region reader's "wishlist", submits
// decode jobs onto the shared work queue, and on completion promotes a
// tile to Cached (or Failed/Empty) and releases it back to the block
// allocator when nobody still needs it. Grounded on the teacher's
// cog.TileCache shape (a path/level/col/row-keyed cache guarding a
// decoded-image map) merged with tile/generator.go's channel-fed worker
// loop, rebuilt around our own internal/workqueue instead of a raw
// channel since spec.md §4.3 names a specific ring-buffer work queue the
// whole engine shares, not a per-call channel.
package loader

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/arena"
	"github.com/cytoslide/slidecore/internal/backend"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
	"github.com/cytoslide/slidecore/internal/workqueue"
)

// Priority selects which work queue lane a tile request lands in:
// viewport tiles (what the user is looking at right now) go on the high
// lane, prefetch/lower-resolution tiles go on normal.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Cache owns the block allocator tile pixel buffers come from and the
// shared work queue lanes decode jobs run on. One Cache typically backs
// an entire engine.Engine, shared across every open Image.
type Cache struct {
	alloc *arena.BlockAllocator
	lanes *workqueue.Lanes
}

// New creates a Cache whose tile pixel buffers come from alloc (sized
// for one tile's worth of BGRA bytes) and whose decode jobs run on
// lanes.
func New(alloc *arena.BlockAllocator, lanes *workqueue.Lanes) *Cache {
	return &Cache{alloc: alloc, lanes: lanes}
}

// RequestTile ensures the tile at (level, x, y) is either already
// resolving or gets submitted to decode. It is safe to call repeatedly
// for the same tile (e.g. once per frame while a viewport tile is
// pending) — SubmittedForLoad gates duplicate submission.
//
// needKeep and needGPU are the wishlist pin bits spec.md §4.6 carries on
// every load task: needKeep tells decodeJob not to trim the tile the
// instant it finishes decoding (a region read pins the tiles it's about
// to blit this way before submitting them, and releases the pin once
// the blit is done); needGPU marks a tile a renderer still wants
// resident even after a region read lets go of it. Callers that only
// want the decode to happen eventually (prefetch, indexing-triggers)
// pass false for both.
//
// If the level needs indexing (a lazy tile-grid build; no bundled
// backend sets the flag), the first caller to observe that submits an indexing job
// instead of a tile decode; once indexing completes, a later
// RequestTile call for the same tile proceeds to the normal decode
// path, matching spec.md §4.6's "needs_indexing" gate.
func (c *Cache) RequestTile(img *pyramid.Image, be backend.Backend, level int32, x, y int32, pri Priority, needKeep, needGPU bool) error {
	img.Lock()
	if int(level) < 0 || int(level) >= len(img.Levels) {
		img.Unlock()
		return fmt.Errorf("%w: level %d out of range", slideerr.ErrMalformedContainer, level)
	}
	lvl := &img.Levels[level]
	if !lvl.Exists {
		img.Unlock()
		return fmt.Errorf("%w: level %d does not exist", slideerr.ErrMalformedContainer, level)
	}
	if lvl.NeedsIndexing() {
		img.Unlock()
		if lvl.MarkIndexingSubmitted() {
			c.submit(pri, func(int) {
				if err := be.SubmitIndexing(lvl); err != nil {
					// The level stays flagged. Its indexing-submitted mark is
					// not cleared, so indexing for this level is not submitted
					// again and later calls keep returning ErrNotIndexed.
					lvl.SetNeedsIndexing(true)
				}
			})
		}
		return slideerr.ErrNotIndexed
	}
	t := lvl.TileAt(x, y)
	img.Unlock()
	if t == nil {
		return fmt.Errorf("%w: tile (%d,%d) out of range at level %d", slideerr.ErrMalformedContainer, x, y, level)
	}

	// Pin bits are set before the tile is ever submitted, so a decode
	// that runs inline the moment it's queued (Queue.Pump) still sees
	// them: setting this after c.submit would race the synchronous case.
	if needKeep {
		t.NeedKeepInCache.Store(true)
	}
	if needGPU {
		t.NeedGPUResidency.Store(true)
	}

	if t.State() == pyramid.TileCached || t.State() == pyramid.TileEmpty {
		return nil
	}
	if !t.SubmittedForLoad.CompareAndSwap(false, true) {
		return nil // already in flight
	}
	t.SetState(pyramid.TileSubmitted)

	img.Retain()
	c.submit(pri, c.decodeJob(img, img.ResourceID(), be, lvl, t))
	return nil
}

func (c *Cache) submit(pri Priority, task workqueue.Task) {
	if pri == PriorityHigh {
		c.lanes.High.Submit(task)
		return
	}
	c.lanes.Normal.Submit(task)
}

// decodeJob builds the task body executed by a worker goroutine: steps
// 1-6 of spec.md §4.6 (resource-id check, state transition, decode,
// buffer acquisition, cache admission, trim-if-unneeded, refcount
// release). resourceID is captured at submit time so the task can tell
// if img has since been torn down and recycled for a different slide
// before it writes into one of its tiles.
func (c *Cache) decodeJob(img *pyramid.Image, resourceID uint64, be backend.Backend, lvl *pyramid.Level, t *pyramid.Tile) workqueue.Task {
	return func(int) {
		defer img.Release()
		defer t.SubmittedForLoad.Store(false)

		if img.ResourceID() != resourceID {
			return // img no longer refers to the Image this task was submitted for
		}

		t.SetState(pyramid.TileDecoding)

		pix, empty, err := be.DecodeTile(lvl, t.X, t.Y)
		if err != nil {
			t.Error = true
			t.SetState(pyramid.TileFailed)
			return
		}
		if empty {
			t.IsEmpty = true
			t.SetState(pyramid.TileEmpty)
			return
		}

		buf, err := c.alloc.Alloc()
		if err != nil {
			t.Error = true
			t.SetState(pyramid.TileFailed)
			return
		}
		copy(buf, pix)
		t.Pixel = buf
		t.SetState(pyramid.TileCached)

		if !t.NeedKeepInCache.Load() && !t.NeedGPUResidency.Load() {
			c.Evict(t)
		}
	}
}

// Evict drops a cached tile's pixel buffer back to the block allocator
// and marks it Evicted, matching Open Question #3's decision: trimming
// happens here, in the loader worker, immediately after a decode that
// turns out to be no longer wanted — not in the region reader.
func (c *Cache) Evict(t *pyramid.Tile) {
	if t.State() != pyramid.TileCached {
		return
	}
	if t.Refcount() > 0 {
		return // still pinned by an in-progress region read
	}
	buf := t.Pixel
	t.Pixel = nil
	t.SetState(pyramid.TileEvicted)
	if buf != nil {
		c.alloc.Free(buf)
	}
}
