package pyramid

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Backend identifies which container format backs an Image, per spec.md
// §3's opaque backend tag.
type Backend string

const (
	BackendTIFF      Backend = "tiff"
	BackendMRXS      Backend = "mrxs"
	BackendISyntax   Backend = "isyntax"
	BackendDICOM     Backend = "dicom"
	BackendOpenSlide Backend = "openslide"
	BackendSimple    Backend = "simple"
)

// Image is a whole-slide image: its resolution pyramid plus any macro/
// label thumbnails. Mirrors spec.md §3's Image struct field for field:
// backend tag, dimensions, mpp, levels, macro/label images, refcount,
// deletion_pending, and a lock guarding level/tile mutation.
type Image struct {
	Backend Backend

	WidthPixels, HeightPixels int64
	MPPX, MPPY                float64

	Levels []Level

	Macro, Label *RasterImage

	mu              sync.Mutex
	refcount        atomic.Int32
	deletionPending atomic.Bool
	resourceID      atomic.Uint64

	// CloseHandle is called once, when refcount drops to zero after
	// deletion has been requested, to release the underlying file/mmap
	// handle. Backends set this at open time.
	CloseHandle func() error
}

// RasterImage is a small, fully-decoded auxiliary image (macro or label).
type RasterImage struct {
	Width, Height int32
	Pixel         []byte // BGRA
}

// Lock guards level/tile-grid mutation (indexing, ChangeResolution).
// Exported so the loader and region reader can take it around a
// multi-step sequence without introducing a second lock on the same
// data, matching spec.md's single "Image lock" invariant.
func (img *Image) Lock()   { img.mu.Lock() }
func (img *Image) Unlock() { img.mu.Unlock() }

// Retain increments the Image's refcount. Every open handle (a region
// reader's call, a cache entry pinning its parent image) must pair a
// Retain with a Release.
func (img *Image) Retain() { img.refcount.Add(1) }

// Release decrements the refcount and runs CloseHandle once it reaches
// zero while deletion is pending, matching invariant 1: an Image is only
// actually torn down once nobody holds a reference AND deletion has been
// requested.
func (img *Image) Release() error {
	n := img.refcount.Add(-1)
	if n < 0 {
		panic("pyramid: Image refcount went negative")
	}
	if n == 0 && img.deletionPending.Load() {
		if img.CloseHandle != nil {
			return img.CloseHandle()
		}
	}
	return nil
}

// RequestDeletion marks the Image for teardown. If no references remain
// it tears down immediately; otherwise the last Release does it.
func (img *Image) RequestDeletion() error {
	img.deletionPending.Store(true)
	if img.refcount.Load() == 0 && img.CloseHandle != nil {
		return img.CloseHandle()
	}
	return nil
}

// DeletionPending reports whether RequestDeletion has been called.
func (img *Image) DeletionPending() bool { return img.deletionPending.Load() }

var resourceIDCounter atomic.Uint64

// ResourceID returns a process-unique id for this Image, assigned
// lazily on first use. A load task captures it at submit time
// (spec.md §4.6's load task "resource id" field) and compares it again
// in the worker body before touching the Image's tiles, so a task that
// somehow outlives its Image is dropped instead of writing into memory
// that no longer belongs to the slide it was decoding for.
func (img *Image) ResourceID() uint64 {
	for {
		if id := img.resourceID.Load(); id != 0 {
			return id
		}
		id := resourceIDCounter.Add(1)
		if img.resourceID.CompareAndSwap(0, id) {
			return id
		}
	}
}

// GetTile resolves the tile at (level, x, y). It returns ErrNotIndexed if
// the level's tile grid requires indexing first (the caller — the loader
// — is responsible for submitting an indexing job and retrying).
func (img *Image) GetTile(level, x, y int32) (*Tile, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if int(level) < 0 || int(level) >= len(img.Levels) {
		return nil, fmt.Errorf("%w: level %d out of range", slideerr.ErrMalformedContainer, level)
	}
	lvl := &img.Levels[level]
	if !lvl.Exists {
		return nil, fmt.Errorf("%w: level %d does not exist", slideerr.ErrMalformedContainer, level)
	}
	if lvl.NeedsIndexing() {
		return nil, slideerr.ErrNotIndexed
	}
	t := lvl.TileAt(x, y)
	if t == nil {
		return nil, fmt.Errorf("%w: tile (%d,%d) out of range at level %d", slideerr.ErrMalformedContainer, x, y, level)
	}
	return t, nil
}

// GetTileFromFlatIndex resolves a tile by its flattened index within a
// level's grid, the addressing scheme MRXS's hier tables use directly.
func (img *Image) GetTileFromFlatIndex(level int32, flatIndex int64) (*Tile, error) {
	img.mu.Lock()
	defer img.mu.Unlock()

	if int(level) < 0 || int(level) >= len(img.Levels) {
		return nil, fmt.Errorf("%w: level %d out of range", slideerr.ErrMalformedContainer, level)
	}
	lvl := &img.Levels[level]
	if flatIndex < 0 || flatIndex >= int64(len(lvl.Tiles)) {
		return nil, fmt.Errorf("%w: flat tile index %d out of range", slideerr.ErrMalformedContainer, flatIndex)
	}
	return &lvl.Tiles[flatIndex], nil
}

// LevelIsIndexed reports whether the given level's tile grid is ready for
// GetTile to resolve without returning ErrNotIndexed.
func (img *Image) LevelIsIndexed(level int32) bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	if int(level) < 0 || int(level) >= len(img.Levels) {
		return false
	}
	return !img.Levels[level].NeedsIndexing()
}

// LevelForDownsample finds the best level for a requested downsample
// factor, returning the level index whose effective downsample is the
// largest that does not exceed the requested one (never upsamples past
// what a level already provides), matching spec.md's level-selection
// rule for viewers zooming across the pyramid. This is a read-only
// query; it does not touch mpp — see ChangeResolution for that.
func (img *Image) LevelForDownsample(requestedDownsample float64) int32 {
	img.mu.Lock()
	defer img.mu.Unlock()

	best := int32(0)
	bestDownsample := 1.0
	for i := range img.Levels {
		lvl := &img.Levels[i]
		if !lvl.Exists || lvl.WidthPixels() == 0 {
			continue
		}
		downsample := float64(img.WidthPixels) / float64(lvl.WidthPixels())
		if downsample <= requestedDownsample && downsample > bestDownsample {
			best = int32(i)
			bestDownsample = downsample
		}
	}
	return best
}

// MPPSetter is implemented by a backend.Backend that tracks its own
// native μm/px figure apart from the Image/Level copies (the TIFF and
// MRXS readers do, since their tag/section values are otherwise the
// only record of "what mpp this container claims"). ChangeResolution
// type-asserts against this instead of taking a backend.Backend
// parameter directly, since internal/backend already imports this
// package and cannot be imported back.
type MPPSetter interface {
	SetMPP(mppX, mppY float64)
}

// ChangeResolution propagates a new μm/px figure down to the Image, to
// every existing Level, and to the backend's own mpp field when be
// implements MPPSetter, matching spec.md §4.5: "propagates new μm/px
// down to every level and to the native backend's mpp field so derived
// quantities agree." be may be nil or any backend.Backend value.
func (img *Image) ChangeResolution(mppX, mppY float64, be any) {
	img.mu.Lock()
	img.MPPX, img.MPPY = mppX, mppY
	for i := range img.Levels {
		lvl := &img.Levels[i]
		if !lvl.Exists {
			continue
		}
		lvl.MPPX, lvl.MPPY = mppX, mppY
	}
	img.mu.Unlock()

	if setter, ok := be.(MPPSetter); ok {
		setter.SetMPP(mppX, mppY)
	}
}

// OverlayOn makes child inherit parent's mpp, per spec.md §4.5: "when an
// Image is opened as an overlay on top of a parent, it inherits the
// parent's mpp so that slightly-different resolution tags in source
// files do not cause visible mis-registration." It does not touch the
// backend's own mpp field — an overlay's container still reports
// whatever mpp it was tagged with; only the pyramid's own figures (used
// for viewport math against the parent) are forced to agree.
func OverlayOn(parent, child *Image) {
	parent.mu.Lock()
	mppX, mppY := parent.MPPX, parent.MPPY
	parent.mu.Unlock()

	child.mu.Lock()
	child.MPPX, child.MPPY = mppX, mppY
	for i := range child.Levels {
		if !child.Levels[i].Exists {
			continue
		}
		child.Levels[i].MPPX, child.Levels[i].MPPY = mppX, mppY
	}
	child.mu.Unlock()
}
