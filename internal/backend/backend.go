// Package backend defines the trait-object interface Design Notes calls
// for in place of a switch-on-tag vtable: each container format
// (TIFF/BigTIFF, MRXS, iSyntax, DICOM, OpenSlide, simple raster)
// implements Backend, and internal/engine keeps one Backend instance per
// open pyramid.Image.
package backend

import "github.com/cytoslide/slidecore/internal/pyramid"

// Backend decodes tiles for one open Image. DecodeTile is called by
// loader workers, potentially from many goroutines concurrently for
// different tiles of the same Image — implementations must make that
// safe (the TIFF/MRXS backends do so via positional ReadAt on a shared
// file handle, never mutating shared state without a lock).
type Backend interface {
	// DecodeTile returns the BGRA pixel buffer for the tile at grid
	// position (x, y) in the given level's BackingIndex space. empty is
	// true when the tile is known to carry no data (a zero byte count,
	// or — for sparse containers — no entry at all); in that case buf is
	// nil and err is nil.
	DecodeTile(level *pyramid.Level, x, y int32) (buf []byte, empty bool, err error)

	// SubmitIndexing is called when a Level reports NeedsIndexing: it
	// performs whatever lazy scan builds that level's tile grid and clears
	// the flag on success. None of the bundled backends sets NeedsIndexing:
	// TIFF, MRXS and DICOM build their tile grids at open time.
	SubmitIndexing(level *pyramid.Level) error

	// Close releases the backend's open file handles. Called once, when
	// the owning Image's refcount reaches zero with deletion pending.
	Close() error
}
