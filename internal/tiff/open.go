package tiff

import (
	"fmt"

	"github.com/cytoslide/slidecore/internal/backend"
	"github.com/cytoslide/slidecore/internal/ioutil"
	"github.com/cytoslide/slidecore/internal/pyramid"
	"github.com/cytoslide/slidecore/internal/slideerr"
)

// Reader is the TIFF/BigTIFF backend.Backend: it owns the parsed IFD
// table and the open file handle, and decodes tiles on demand for
// whichever pyramid.Level points back at one of its IFDs via
// BackingIndex.
type Reader struct {
	handle ioutil.Handle
	ifds   []IFD

	nativeMPPX, nativeMPPY float64
}

// SetMPP implements pyramid.MPPSetter: change_resolution propagates its
// new μm/px here so a later probe of the backend's own idea of scale
// (re-deriving a magnification string, say) agrees with the Image/Level
// fields the caller just rewrote.
func (r *Reader) SetMPP(mppX, mppY float64) {
	r.nativeMPPX, r.nativeMPPY = mppX, mppY
}

var _ backend.Backend = (*Reader)(nil)
var _ pyramid.MPPSetter = (*Reader)(nil)

// Open parses a TIFF/BigTIFF file and builds the pyramid.Image it
// represents: one Level per classified pyramid IFD (descending
// resolution), plus macro/label RasterImages when present. Strip-encoded
// directories are promoted to a synthetic single-column tile grid so the
// rest of the engine never distinguishes tiles from strips, matching the
// teacher's promoteStripsToTiles.
func Open(path string) (*pyramid.Image, backend.Backend, error) {
	stream, err := ioutil.OpenStream(path)
	if err != nil {
		return nil, nil, err
	}
	defer stream.Close()

	ifds, _, err := ParseAll(streamSeeker{stream})
	if err != nil {
		return nil, nil, err
	}
	if len(ifds) == 0 {
		return nil, nil, fmt.Errorf("%w: no IFDs found", slideerr.ErrMalformedContainer)
	}

	handle, err := ioutil.OpenLocal(path)
	if err != nil {
		return nil, nil, err
	}

	classified := classifyIFDs(ifds)
	if len(classified.levels) == 0 {
		handle.Close()
		return nil, nil, fmt.Errorf("%w: no pyramid levels found", slideerr.ErrMalformedContainer)
	}

	for _, ifdIdx := range classified.levels {
		promoteStripsIfNeeded(&ifds[ifdIdx])
	}

	r := &Reader{handle: handle, ifds: ifds}

	img := &pyramid.Image{Backend: pyramid.BackendTIFF}
	img.CloseHandle = r.Close

	baseWidth := int64(ifds[classified.levels[0]].Width)

	// Assign each tiled IFD its discrete pyramid level number (§4.4.a's
	// round(log2(base_width/level_width)) bounded by tile-count, falling
	// back to last_level+1), then size img.Levels to the highest number
	// seen and synthesize Exists:false placeholders for any downsample
	// step no IFD actually backs.
	levelNumbers := make([]int32, len(classified.levels))
	lastLevel := int32(-1)
	for i, ifdIdx := range classified.levels {
		ifd := &ifds[ifdIdx]
		n := levelNumberForWidth(baseWidth, int64(ifd.Width), int32(ifd.TilesAcross()), int32(ifd.TileWidth), lastLevel)
		levelNumbers[i] = n
		lastLevel = n
	}

	img.Levels = make([]pyramid.Level, lastLevel+1)
	for i := range img.Levels {
		img.Levels[i].BackingIndex = -1
	}

	for i, ifdIdx := range classified.levels {
		ifd := &ifds[ifdIdx]

		lvl := &img.Levels[levelNumbers[i]]
		lvl.Exists = true
		lvl.BackingIndex = ifdIdx
		lvl.TileWidth = int32(ifd.TileWidth)
		lvl.TileHeight = int32(ifd.TileHeight)
		lvl.TileCountX = int32(ifd.TilesAcross())
		lvl.TileCountY = int32(ifd.TilesDown())
		lvl.Width = int64(ifd.Width)
		lvl.Height = int64(ifd.Height)
		lvl.Downsample = float64(baseWidth) / float64(ifd.Width)
		lvl.MPPX, lvl.MPPY = mppFromIFD(ifd)
		lvl.InitTiles()
		markEmptyTiles(lvl, ifd)

		if levelNumbers[i] == 0 {
			img.WidthPixels = int64(ifd.Width)
			img.HeightPixels = int64(ifd.Height)
			img.MPPX, img.MPPY = lvl.MPPX, lvl.MPPY
			r.nativeMPPX, r.nativeMPPY = lvl.MPPX, lvl.MPPY
		}
	}

	if classified.macroIdx >= 0 {
		img.Macro = decodeAuxImage(handle, &ifds[classified.macroIdx])
	}
	if classified.labelIdx >= 0 {
		img.Label = decodeAuxImage(handle, &ifds[classified.labelIdx])
	}

	return img, r, nil
}

// DecodeTile implements backend.Backend.
func (r *Reader) DecodeTile(level *pyramid.Level, x, y int32) ([]byte, bool, error) {
	if level.BackingIndex < 0 || level.BackingIndex >= len(r.ifds) {
		return nil, false, fmt.Errorf("%w: level backing index %d out of range", slideerr.ErrMalformedContainer, level.BackingIndex)
	}
	ifd := &r.ifds[level.BackingIndex]
	buf, err := ReadTile(r.handle, ifd, int(x), int(y))
	if err != nil {
		return nil, false, err
	}
	return buf, buf == nil, nil
}

// SubmitIndexing implements backend.Backend. TIFF/BigTIFF directories are
// fully indexed at Open time (the IFD chain gives exact tile offsets up
// front), so no level ever reports NeedsIndexing and this is never
// called in practice; it is a safe no-op regardless.
func (r *Reader) SubmitIndexing(level *pyramid.Level) error {
	level.SetNeedsIndexing(false)
	return nil
}

// Close implements backend.Backend.
func (r *Reader) Close() error {
	return r.handle.Close()
}

// decodeAuxImage best-effort decodes a macro/label IFD into a
// RasterImage. Failures are swallowed: a missing or corrupt thumbnail is
// not fatal to opening the slide.
func decodeAuxImage(handle ioutil.Handle, ifd *IFD) *pyramid.RasterImage {
	w, h := int(ifd.Width), int(ifd.Height)
	if w == 0 || h == 0 {
		return nil
	}

	var raw []byte
	if len(ifd.StripOffsets) > 0 {
		for i, off := range ifd.StripOffsets {
			if i >= len(ifd.StripByteCounts) {
				break
			}
			n := int(ifd.StripByteCounts[i])
			buf := make([]byte, n)
			if _, err := handle.ReadAt(buf, int64(off)); err != nil {
				return nil
			}
			raw = append(raw, buf...)
		}
	} else if len(ifd.TileOffsets) > 0 {
		for i, off := range ifd.TileOffsets {
			if i >= len(ifd.TileByteCounts) {
				break
			}
			n := int(ifd.TileByteCounts[i])
			buf := make([]byte, n)
			if _, err := handle.ReadAt(buf, int64(off)); err != nil {
				return nil
			}
			raw = append(raw, buf...)
		}
	} else {
		return nil
	}

	pix, err := decodeTileToBGRA(ifd, raw, w, h)
	if err != nil {
		return nil
	}
	return &pyramid.RasterImage{Width: int32(w), Height: int32(h), Pixel: pix}
}

// markEmptyTiles marks every tile whose declared byte count is zero as
// permanently Empty at open time (Never-loaded → Empty, per spec.md
// §4.4.a/§4.6: "observed tile_byte_count == 0 at open time"), so it is
// never submitted to the loader as a decode candidate. Mirrors
// mrxs/open.go's equivalent presence check against Index.dat entries.
func markEmptyTiles(lvl *pyramid.Level, ifd *IFD) {
	for idx, n := range ifd.TileByteCounts {
		if n != 0 || idx >= len(lvl.Tiles) {
			continue
		}
		t := &lvl.Tiles[idx]
		t.IsEmpty = true
		t.SetState(pyramid.TileEmpty)
	}
}

func promoteStripsIfNeeded(ifd *IFD) {
	if ifd.IsTiled() || len(ifd.StripOffsets) == 0 {
		return
	}
	// A single-column synthetic tile grid: one "tile" per strip, full
	// image width wide, RowsPerStrip tall (the last strip may be
	// shorter — the loader clips against the image height when
	// assembling regions).
	rowsPerStrip := ifd.RowsPerStrip
	if rowsPerStrip == 0 {
		rowsPerStrip = ifd.Height
	}
	ifd.TileWidth = ifd.Width
	ifd.TileHeight = rowsPerStrip
	ifd.TileOffsets = ifd.StripOffsets
	ifd.TileByteCounts = ifd.StripByteCounts
}
