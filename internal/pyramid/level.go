package pyramid

import "sync/atomic"

// Level is one resolution level of a pyramid: a grid of Tiles at a fixed
// downsample factor from the image's base resolution.
type Level struct {
	Exists bool

	// BackingIndex identifies which underlying container IFD/record this
	// level is decoded from (a TIFF directory index, an MRXS Data file
	// index); -1 if the level has no direct backing and is synthesized
	// (a missing intermediate level filled in by downsampling neighbors).
	BackingIndex int

	TileCountX, TileCountY int32
	TileWidth, TileHeight  int32

	// Width, Height are this level's true pixel extent. They are usually
	// a little smaller than TileCountX*TileWidth / TileCountY*TileHeight
	// (the last row/column of tiles overhangs the image), and are left
	// zero for a synthesized placeholder level that has no backing IFD
	// at all — WidthPixels/HeightPixels fall back to the tile-grid
	// estimate in that case.
	Width, Height int64

	// Downsample is this level's resolution factor relative to level 0
	// (1.0 at full resolution, 2.0 at half, ...), independent of the
	// rounding InitTiles' caller used to pick this level's own index.
	Downsample float64

	MPPX, MPPY float64

	Tiles []Tile

	needsIndexing      atomic.Bool
	indexingSubmitted  atomic.Bool
}

// NeedsIndexing reports whether this level's tile grid requires a lazy
// indexing pass before GetTile can resolve coordinates. The bundled
// backends build their grids at open time and never set it.
func (l *Level) NeedsIndexing() bool { return l.needsIndexing.Load() }

// SetNeedsIndexing marks whether indexing is required.
func (l *Level) SetNeedsIndexing(v bool) { l.needsIndexing.Store(v) }

// IndexingSubmitted reports whether an indexing job has already been
// queued, so a second caller observing NeedsIndexing doesn't submit a
// duplicate job.
func (l *Level) IndexingSubmitted() bool { return l.indexingSubmitted.Load() }

// MarkIndexingSubmitted flips the submitted flag. Returns false if it was
// already set (the caller lost the race and should not submit again).
func (l *Level) MarkIndexingSubmitted() bool {
	return l.indexingSubmitted.CompareAndSwap(false, true)
}

// InitTiles allocates and numbers the tile grid for a level once its
// TileCountX/Y are known. Each tile's TileIndex, X, Y are fixed at grid
// position and never change afterward.
func (l *Level) InitTiles() {
	count := int64(l.TileCountX) * int64(l.TileCountY)
	l.Tiles = make([]Tile, count)
	for y := int32(0); y < l.TileCountY; y++ {
		for x := int32(0); x < l.TileCountX; x++ {
			idx := int64(y)*int64(l.TileCountX) + int64(x)
			l.Tiles[idx].TileIndex = idx
			l.Tiles[idx].X = x
			l.Tiles[idx].Y = y
		}
	}
}

// TileAt returns a pointer to the tile at grid position (x, y), or nil if
// out of range.
func (l *Level) TileAt(x, y int32) *Tile {
	if x < 0 || y < 0 || x >= l.TileCountX || y >= l.TileCountY {
		return nil
	}
	idx := int64(y)*int64(l.TileCountX) + int64(x)
	return &l.Tiles[idx]
}

// WidthPixels returns this level's true pixel width when the backend
// recorded one, falling back to the tile-grid estimate (TileCountX *
// TileWidth) otherwise.
func (l *Level) WidthPixels() int64 {
	if l.Width > 0 {
		return l.Width
	}
	return int64(l.TileCountX) * int64(l.TileWidth)
}

// HeightPixels returns this level's true pixel height; see WidthPixels.
func (l *Level) HeightPixels() int64 {
	if l.Height > 0 {
		return l.Height
	}
	return int64(l.TileCountY) * int64(l.TileHeight)
}
