// Package pyramid implements the Image/Level/Tile data model of §3: a
// gigapixel slide exposed as a pyramid of resolution levels, each a grid
// of fixed-size tiles. Field layout follows the teacher's cog.Reader (one
// owner struct carrying everything needed to decode a tile) generalized
// from a single-image GeoTIFF to a multi-level, multi-backend pyramid.
package pyramid

import "sync/atomic"

// TileState is the per-tile lifecycle state spec.md §4.6 defines.
type TileState int32

const (
	TileNeverLoaded TileState = iota
	TileSubmitted
	TileDecoding
	TileCached
	TileFailed
	TileEvicted
	TileEmpty // terminal: tile is known to contain no data (background)
)

func (s TileState) String() string {
	switch s {
	case TileNeverLoaded:
		return "never_loaded"
	case TileSubmitted:
		return "submitted"
	case TileDecoding:
		return "decoding"
	case TileCached:
		return "cached"
	case TileFailed:
		return "failed"
	case TileEvicted:
		return "evicted"
	case TileEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Tile is one entry in a Level's tile grid. Pixel is nil unless State is
// TileCached; GPUHandle is an opaque value the renderer (out of scope)
// attaches residency to.
type Tile struct {
	TileIndex int64
	X, Y      int32

	state atomic.Int32

	IsEmpty   bool
	Pixel     []byte // BGRA, TileWidth*TileHeight*4 bytes when cached
	GPUHandle uintptr

	NeedKeepInCache    atomic.Bool
	NeedGPUResidency   atomic.Bool
	SubmittedForLoad   atomic.Bool
	Error              bool

	refcount atomic.Int32
}

// State returns the tile's current lifecycle state.
func (t *Tile) State() TileState { return TileState(t.state.Load()) }

// SetState transitions the tile to a new state. No lock is taken here or
// by the loader's cache, which orders a tile's transitions through the
// SubmittedForLoad flag; the atomic store only guarantees the read side
// (region reader polling state without a lock) sees a consistent value.
func (t *Tile) SetState(s TileState) { t.state.Store(int32(s)) }

// Retain increments the tile's refcount, pinning its pixel buffer against
// eviction while a caller holds a reference (e.g. the region reader
// assembling a rectangle).
func (t *Tile) Retain() { t.refcount.Add(1) }

// Release decrements the refcount. Returns the count after release so
// callers (the cache) can decide whether the tile is now evictable.
func (t *Tile) Release() int32 { return t.refcount.Add(-1) }

// Refcount reports the current refcount.
func (t *Tile) Refcount() int32 { return t.refcount.Load() }
