// Package region assembles an arbitrary pixel rectangle out of a
// pyramid level's tile grid, per spec.md §4.7. Grounded on the
// teacher's cog.Reader.ReadRegion (tile-cover math, per-tile overlap
// blit into a destination buffer), extended with the engine's
// asynchronous tile cache: instead of ReadTile decoding synchronously
// inline, each covering tile is requested from loader.Cache and the
// caller cooperatively pumps the work queue until every tile involved
// has left the Submitted/Decoding states.
package region

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/backend"
	"github.com/cytoslide/slidecore/internal/loader"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
	"github.com/cytoslide/slidecore/internal/workqueue"
)

// Reader reads pixel rectangles out of an Image's pyramid, routing tile
// misses through a shared Cache.
type Reader struct {
	cache *loader.Cache
	lanes *workqueue.Lanes
}

// New creates a region Reader backed by cache, cooperatively pumping
// lanes while waiting for tiles it itself requested to resolve.
func New(cache *loader.Cache, lanes *workqueue.Lanes) *Reader {
	return &Reader{cache: cache, lanes: lanes}
}

// PixelFormat selects the buffer ReadRegion hands back. Every backend
// decodes to BGRA; PixelFormatLuminanceF32 asks the region reader to
// additionally convert the composited BGRA intermediate per spec.md
// §4.7 step 6.
type PixelFormat int

const (
	// PixelFormatBGRA is the backend-native intermediate: no conversion.
	PixelFormatBGRA PixelFormat = iota
	// PixelFormatLuminanceF32 converts via the reversible YCoCg
	// luminance Y = (R + G + G + B) / 4, stored at float precision.
	PixelFormatLuminanceF32
)

// Result is a fully decoded rectangle, row-major. Pixel holds
// Width*Height*4 BGRA bytes when Format is PixelFormatBGRA; Luminance
// holds Width*Height float32 samples when Format is
// PixelFormatLuminanceF32. Only the field matching Format is populated.
type Result struct {
	Width, Height int32
	Format        PixelFormat
	Pixel         []byte
	Luminance     []float32
}

// ReadRegion reads the rectangle [startX, startX+width) x [startY,
// startY+height) of the given level in pixel coordinates, compositing
// from whichever tiles overlap it, then converts to format if it isn't
// the BGRA intermediate. Tiles in the Empty state contribute solid
// white; tiles in the Failed state also contribute solid white and are
// reflected in the returned error (the region itself is still returned
// — partial-failure is not fatal to the whole read, matching spec.md
// §4.7's "best effort" framing for in-flight viewers).
func (r *Reader) ReadRegion(img *pyramid.Image, be backend.Backend, level int32, startX, startY, width, height int32, format PixelFormat) (*Result, error) {
	if format != PixelFormatBGRA && format != PixelFormatLuminanceF32 {
		return nil, fmt.Errorf("%w: pixel format %d", slideerr.ErrUnsupportedConversion, format)
	}
	img.Lock()
	if int(level) < 0 || int(level) >= len(img.Levels) {
		img.Unlock()
		return nil, fmt.Errorf("%w: level %d out of range", slideerr.ErrMalformedContainer, level)
	}
	lvl := &img.Levels[level]
	if !lvl.Exists {
		img.Unlock()
		return nil, fmt.Errorf("%w: level %d does not exist", slideerr.ErrMalformedContainer, level)
	}
	tw, th := lvl.TileWidth, lvl.TileHeight
	img.Unlock()
	if tw <= 0 || th <= 0 || width <= 0 || height <= 0 {
		return emptyResult(width, height, format), nil
	}

	colStart := startX / tw
	colEnd := (startX + width - 1) / tw
	rowStart := startY / th
	rowEnd := (startY + height - 1) / th

	// Per spec.md §7/§8(d): empty and failed-to-decode tiles contribute
	// solid white (0xFFFFFFFF), not transparent black, so the whole
	// destination buffer starts white and only pixels actually backed by
	// a cached tile get overwritten below.
	dst := make([]byte, int(width)*int(height)*4)
	for i := range dst {
		dst[i] = 0xFF
	}

	var failed bool
	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			t := r.waitForTile(img, be, level, col, row)
			if t == nil {
				continue // out of range: leave white
			}
			if t.State() == pyramid.TileFailed {
				failed = true
				continue // leave white
			}
			if t.State() != pyramid.TileCached {
				continue // Empty: leave white
			}

			t.Retain()
			blitTile(dst, width, height, startX, startY, col, row, tw, th, t.Pixel)
			t.Release()

			// spec.md §4.7 step 7: release the pin this same call set in
			// waitForTile now that the blit has read the tile's pixels.
			t.NeedKeepInCache.Store(false)
		}
	}

	var err error
	if failed {
		err = fmt.Errorf("%w: one or more tiles failed to decode", slideerr.ErrIoError)
	}

	if format == PixelFormatLuminanceF32 {
		return &Result{Width: width, Height: height, Format: format, Luminance: bgraToLuminance(dst)}, err
	}
	return &Result{Width: width, Height: height, Format: format, Pixel: dst}, err
}

func emptyResult(width, height int32, format PixelFormat) *Result {
	if format == PixelFormatLuminanceF32 {
		return &Result{Width: width, Height: height, Format: format, Luminance: make([]float32, int(width)*int(height))}
	}
	return &Result{Width: width, Height: height, Format: format, Pixel: make([]byte, int(width)*int(height)*4)}
}

// bgraToLuminance converts a BGRA buffer to the reversible YCoCg
// luminance channel per spec.md §4.7 step 6: Y = (R + G + G + B) / 4.
func bgraToLuminance(bgra []byte) []float32 {
	out := make([]float32, len(bgra)/4)
	for i := range out {
		b := float32(bgra[i*4+0])
		g := float32(bgra[i*4+1])
		rr := float32(bgra[i*4+2])
		out[i] = (rr + g + g + b) / 4
	}
	return out
}

// waitForTile requests the tile at (level, col, row) with the
// need_keep_in_cache pin set (spec.md §4.7 step 2: mark the wishlist
// entry need_keep_in_cache before submit, so a tile that finishes
// decoding before this call pumps the lane again isn't trimmed before
// the blit below ever sees it), and pumps the shared lanes until it
// leaves the in-flight states (Submitted, Decoding) or the level turns
// out not to exist / be out of range.
func (r *Reader) waitForTile(img *pyramid.Image, be backend.Backend, level, col, row int32) *pyramid.Tile {
	for {
		err := r.cache.RequestTile(img, be, level, col, row, loader.PriorityHigh, true, false)
		if err == slideerr.ErrNotIndexed {
			workqueue.Drain(-1, r.lanes)
			continue
		}
		if err != nil {
			return nil
		}
		break
	}

	img.Lock()
	lvl := &img.Levels[level]
	t := lvl.TileAt(col, row)
	img.Unlock()
	if t == nil {
		return nil
	}

	for {
		switch t.State() {
		case pyramid.TileSubmitted, pyramid.TileDecoding, pyramid.TileNeverLoaded:
			if !r.lanes.Pump(-1) {
				// Another goroutine's worker pool may be draining this
				// job; yield instead of busy-spinning.
				workqueue.Drain(-1, r.lanes)
			}
		default:
			return t
		}
	}
}

// blitTile copies the overlap between tile (col,row) (tw x th pixels,
// BGRA) and the destination rectangle starting at (startX,startY) of
// size (width,height), following the teacher's ReadRegion overlap math
// exactly (srcMin/Max, dstMin), generalized from RGBA color.Color
// blending to a direct byte copy since both sides already share the
// BGRA layout.
func blitTile(dst []byte, width, height, startX, startY, col, row, tw, th int32, src []byte) {
	tileMinX := col * tw
	tileMinY := row * th

	srcMinX := max32(startX, tileMinX) - tileMinX
	srcMinY := max32(startY, tileMinY) - tileMinY
	srcMaxX := min32(startX+width, tileMinX+tw) - tileMinX
	srcMaxY := min32(startY+height, tileMinY+th) - tileMinY

	dstMinX := max32(startX, tileMinX) - startX
	dstMinY := max32(startY, tileMinY) - startY

	for y := srcMinY; y < srcMaxY; y++ {
		srcRowOff := (y*tw + srcMinX) * 4
		dstRowOff := ((dstMinY + (y - srcMinY)) * width + dstMinX) * 4
		n := (srcMaxX - srcMinX) * 4
		if srcRowOff < 0 || int(srcRowOff+n) > len(src) {
			continue
		}
		if dstRowOff < 0 || int(dstRowOff+n) > len(dst) {
			continue
		}
		copy(dst[dstRowOff:dstRowOff+n], src[srcRowOff:srcRowOff+n])
	}
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
